// Package ethereum implements the chain capability for EVM-family networks
// over HTTP JSON-RPC. Finality is approximated by receipt polling; EVM nodes
// have no subscription surface on plain HTTP.
package ethereum

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/pkg/logger"
	"github.com/gabapcia/walletflow/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/walletflow/internal/pkg/types"
)

const (
	// averageBlockTime is the default polling pace.
	averageBlockTime = 12 * time.Second

	// submitUpdateBuffer sizes the progress channel; a submission emits a
	// handful of updates at most.
	submitUpdateBuffer = 8
)

// callObject is the JSON-RPC transaction parameter shared by estimation and
// the call encoder.
type callObject struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// receiptResponse is the slice of eth_getTransactionReceipt this package
// cares about.
type receiptResponse struct {
	Status      string    `json:"status"`
	BlockHash   string    `json:"blockHash"`
	BlockNumber types.Hex `json:"blockNumber"`
}

// client implements chainconn.ChainApi for EVM nodes.
type client struct {
	conn jsonrpc.Client

	// pollInterval paces receipt and head polling.
	pollInterval time.Duration
}

var _ chainconn.ChainApi = (*client)(nil)

// NewClient wraps an HTTP JSON-RPC connection as a chain capability.
func NewClient(conn jsonrpc.Client) *client {
	return &client{conn: conn, pollInterval: averageBlockTime}
}

// Submit broadcasts the raw signed transaction and polls its receipt until
// the node reports inclusion. The EVM has no dropped notification, so the
// stream ends only on a receipt or on ctx cancellation.
func (c *client) Submit(ctx context.Context, signed []byte) (<-chan chainconn.SubmitUpdate, error) {
	data, err := c.conn.Fetch(ctx, "eth_sendRawTransaction", "0x"+hex.EncodeToString(signed))
	if err != nil {
		return nil, err
	}

	var hash string
	if err := json.Unmarshal(data, &hash); err != nil {
		return nil, err
	}

	updates := make(chan chainconn.SubmitUpdate, submitUpdateBuffer)
	updates <- chainconn.SubmitUpdate{Stage: chainconn.StageBroadcast, Hash: hash}

	go c.watchReceipt(ctx, hash, updates)
	return updates, nil
}

// watchReceipt polls eth_getTransactionReceipt until it appears, then emits
// the inclusion and finality updates.
func (c *client) watchReceipt(ctx context.Context, hash string, updates chan<- chainconn.SubmitUpdate) {
	defer close(updates)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		receipt, found, err := c.getReceipt(ctx, hash)
		if err != nil {
			logger.Warn(ctx, "receipt poll failed", "tx.hash", hash, "error", err)
			continue
		}
		if !found {
			continue
		}

		success := receipt.Status == "0x1"
		updates <- chainconn.SubmitUpdate{
			Stage:       chainconn.StageInBlock,
			Hash:        hash,
			BlockHash:   receipt.BlockHash,
			BlockNumber: receipt.BlockNumber.Int(),
		}
		updates <- chainconn.SubmitUpdate{
			Stage:       chainconn.StageFinalized,
			Hash:        hash,
			BlockHash:   receipt.BlockHash,
			BlockNumber: receipt.BlockNumber.Int(),
			Success:     success,
		}
		return
	}
}

func (c *client) getReceipt(ctx context.Context, hash string) (receiptResponse, bool, error) {
	data, err := c.conn.Fetch(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return receiptResponse{}, false, err
	}
	if len(data) == 0 || string(data) == "null" {
		return receiptResponse{}, false, nil
	}

	var receipt receiptResponse
	if err := json.Unmarshal(data, &receipt); err != nil {
		return receiptResponse{}, false, err
	}
	return receipt, true, nil
}

func (c *client) FreeBalance(ctx context.Context, address string) (types.Amount, error) {
	data, err := c.conn.Fetch(ctx, "eth_getBalance", address, "latest")
	if err != nil {
		return types.Amount{}, err
	}

	var balance string
	if err := json.Unmarshal(data, &balance); err != nil {
		return types.Amount{}, err
	}
	return types.AmountFromHexString(balance)
}

// EstimateFee multiplies the node's gas price by the estimated gas of the
// call. The call bytes are the JSON call object produced by the encoder.
func (c *client) EstimateFee(ctx context.Context, call []byte) (types.Amount, error) {
	var obj callObject
	if err := json.Unmarshal(call, &obj); err != nil {
		return types.Amount{}, fmt.Errorf("invalid call data: %w", err)
	}

	data, err := c.conn.Fetch(ctx, "eth_gasPrice")
	if err != nil {
		return types.Amount{}, err
	}
	var rawPrice string
	if err := json.Unmarshal(data, &rawPrice); err != nil {
		return types.Amount{}, err
	}
	gasPrice, err := types.AmountFromHexString(rawPrice)
	if err != nil {
		return types.Amount{}, err
	}

	data, err = c.conn.Fetch(ctx, "eth_estimateGas", obj)
	if err != nil {
		return types.Amount{}, err
	}
	var rawGas string
	if err := json.Unmarshal(data, &rawGas); err != nil {
		return types.Amount{}, err
	}
	gas, err := types.AmountFromHexString(rawGas)
	if err != nil {
		return types.Amount{}, err
	}

	return gasPrice.Mul(gas), nil
}

// Lookup classifies a transaction by hash: a receipt decides success or
// failure, a pool entry means pending, and neither means not found.
func (c *client) Lookup(ctx context.Context, hash string) (chainconn.LookupResult, error) {
	receipt, found, err := c.getReceipt(ctx, hash)
	if err != nil {
		return "", err
	}
	if found {
		if receipt.Status == "0x1" {
			return chainconn.LookupSuccess, nil
		}
		return chainconn.LookupFail, nil
	}

	data, err := c.conn.Fetch(ctx, "eth_getTransactionByHash", hash)
	if err != nil {
		return "", err
	}
	if len(data) == 0 || string(data) == "null" {
		return chainconn.LookupNotFound, nil
	}
	return chainconn.LookupPending, nil
}

func (c *client) LatestBlockNumber(ctx context.Context) (int64, error) {
	data, err := c.conn.Fetch(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}

	var number types.Hex
	if err := json.Unmarshal(data, &number); err != nil {
		return 0, err
	}
	return number.Int(), nil
}

// SubscribeHeads emulates a head subscription by polling eth_blockNumber.
func (c *client) SubscribeHeads(ctx context.Context) (<-chan int64, error) {
	last, err := c.LatestBlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	heads := make(chan int64, 16)
	heads <- last

	go func() {
		defer close(heads)

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			height, err := c.LatestBlockNumber(ctx)
			if err != nil || height <= last {
				continue
			}
			last = height

			select {
			case heads <- height:
			default:
			}
		}
	}()

	return heads, nil
}

func (c *client) Ping(ctx context.Context) error {
	_, err := c.conn.Fetch(ctx, "eth_blockNumber")
	return err
}

// Close is a no-op; the HTTP transport holds no persistent connection.
func (c *client) Close() error {
	return nil
}
