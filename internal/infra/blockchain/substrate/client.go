// Package substrate implements the chain capability for Substrate-family
// networks over websocket JSON-RPC, using the node's submit-and-watch
// subscription for transaction progress.
package substrate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/pkg/logger"
	"github.com/gabapcia/walletflow/internal/pkg/transport/wsrpc"
	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/pkg/x/chflow"
)

// submitUpdateBuffer sizes the progress channel of one submission.
const submitUpdateBuffer = 8

// headsBuffer sizes the new-heads stream.
const headsBuffer = 16

// header is the slice of a chain header this package reads.
type header struct {
	Number types.Hex `json:"number"`
}

// extrinsicStatus mirrors the author_submitAndWatchExtrinsic notification
// variants. Exactly one field is set per notification.
type extrinsicStatus struct {
	InBlock   string          `json:"inBlock"`
	Finalized string          `json:"finalized"`
	Dropped   json.RawMessage `json:"dropped"`
	Invalid   json.RawMessage `json:"invalid"`
	Usurped   json.RawMessage `json:"usurped"`
	Retracted string          `json:"retracted"`
}

// client implements chainconn.ChainApi for Substrate nodes.
type client struct {
	conn wsrpc.Client
}

var _ chainconn.ChainApi = (*client)(nil)

// NewClient wraps a websocket JSON-RPC connection as a chain capability.
func NewClient(conn wsrpc.Client) *client {
	return &client{conn: conn}
}

// extrinsicHash is the blake2b-256 hash of the signed extrinsic, which is
// how Substrate identifies a transaction.
func extrinsicHash(signed []byte) string {
	sum := blake2b.Sum256(signed)
	return "0x" + hex.EncodeToString(sum[:])
}

// Submit hands the signed extrinsic to the node's watch subscription and
// translates its status notifications into submit updates.
func (c *client) Submit(ctx context.Context, signed []byte) (<-chan chainconn.SubmitUpdate, error) {
	sub, err := c.conn.Subscribe(ctx, "author_submitAndWatchExtrinsic", "author_unwatchExtrinsic",
		"0x"+hex.EncodeToString(signed))
	if err != nil {
		return nil, err
	}

	hash := extrinsicHash(signed)

	updates := make(chan chainconn.SubmitUpdate, submitUpdateBuffer)
	updates <- chainconn.SubmitUpdate{Stage: chainconn.StageBroadcast, Hash: hash}

	go c.watchExtrinsic(ctx, sub, hash, updates)
	return updates, nil
}

// watchExtrinsic consumes status notifications until a terminal one arrives.
func (c *client) watchExtrinsic(ctx context.Context, sub wsrpc.Subscription, hash string, updates chan<- chainconn.SubmitUpdate) {
	defer close(updates)
	defer func() {
		if err := sub.Unsubscribe(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, wsrpc.ErrClientClosed) {
			logger.Debug(ctx, "unwatch failed", "tx.hash", hash, "error", err)
		}
	}()

	for {
		raw, ok := chflow.Receive(ctx, sub.Events())
		if !ok {
			if ctx.Err() == nil {
				updates <- chainconn.SubmitUpdate{Err: wsrpc.ErrClientClosed}
			}
			return
		}

		var status extrinsicStatus
		if err := json.Unmarshal(raw, &status); err != nil {
			// plain string statuses like "ready" and "broadcast" carry
			// no progress information beyond the initial broadcast
			continue
		}

		switch {
		case status.InBlock != "":
			number, err := c.blockNumber(ctx, status.InBlock)
			if err != nil {
				logger.Warn(ctx, "header fetch failed", "block.hash", status.InBlock, "error", err)
			}
			updates <- chainconn.SubmitUpdate{
				Stage:       chainconn.StageInBlock,
				Hash:        hash,
				BlockHash:   status.InBlock,
				BlockNumber: number,
			}

		case status.Finalized != "":
			number, err := c.blockNumber(ctx, status.Finalized)
			if err != nil {
				logger.Warn(ctx, "header fetch failed", "block.hash", status.Finalized, "error", err)
			}
			updates <- chainconn.SubmitUpdate{
				Stage:       chainconn.StageFinalized,
				Hash:        hash,
				BlockHash:   status.Finalized,
				BlockNumber: number,
				Success:     c.extrinsicSucceeded(ctx, status.Finalized, hash),
			}
			return

		case status.Dropped != nil, status.Invalid != nil, status.Usurped != nil:
			updates <- chainconn.SubmitUpdate{Stage: chainconn.StageDropped, Hash: hash}
			return
		}
	}
}

// systemEventsKey is the storage key of System.Events,
// twox128("System") ++ twox128("Events").
const systemEventsKey = "0x26aa394eea5630e07c48ae0c9558cef780d41e5e16056765bc8461851072c9d7"

// blockBody is the slice of chain_getBlock this package reads.
type blockBody struct {
	Block struct {
		Extrinsics []string `json:"extrinsics"`
	} `json:"block"`
}

// systemEvent is one System.Events record. Only the dispatch verdict events
// attributed to an extrinsic index matter here.
type systemEvent struct {
	Phase struct {
		ApplyExtrinsic *int `json:"applyExtrinsic"`
	} `json:"phase"`
	Event struct {
		Method string `json:"method"`
	} `json:"event"`
}

// extrinsicSucceeded reads the ExtrinsicSuccess/ExtrinsicFailed verdict for a
// finalized extrinsic from the block's System.Events. Finality alone only
// proves inclusion; a failed dispatch still finalizes. When the block body or
// the event records cannot be read the verdict degrades to success.
func (c *client) extrinsicSucceeded(ctx context.Context, blockHash, hash string) bool {
	index, err := c.extrinsicIndex(ctx, blockHash, hash)
	if err != nil {
		logger.Warn(ctx, "extrinsic verdict unavailable", "block.hash", blockHash, "tx.hash", hash, "error", err)
		return true
	}

	data, err := c.conn.Call(ctx, "state_getStorage", systemEventsKey, blockHash)
	if err != nil {
		logger.Warn(ctx, "system events fetch failed", "block.hash", blockHash, "error", err)
		return true
	}

	var events []systemEvent
	if err := json.Unmarshal(data, &events); err != nil {
		logger.Warn(ctx, "system events not decodable", "block.hash", blockHash, "error", err)
		return true
	}

	for _, ev := range events {
		if ev.Phase.ApplyExtrinsic == nil || *ev.Phase.ApplyExtrinsic != index {
			continue
		}
		if ev.Event.Method == "ExtrinsicFailed" {
			return false
		}
	}
	return true
}

// extrinsicIndex locates the extrinsic inside its finalized block, which is
// how System.Events attributes dispatch outcomes.
func (c *client) extrinsicIndex(ctx context.Context, blockHash, hash string) (int, error) {
	data, err := c.conn.Call(ctx, "chain_getBlock", blockHash)
	if err != nil {
		return 0, err
	}

	var body blockBody
	if err := json.Unmarshal(data, &body); err != nil {
		return 0, err
	}

	for i, raw := range body.Block.Extrinsics {
		decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			continue
		}
		if extrinsicHash(decoded) == hash {
			return i, nil
		}
	}

	return 0, fmt.Errorf("extrinsic %s not found in block %s", hash, blockHash)
}

// blockNumber resolves a block hash to its height.
func (c *client) blockNumber(ctx context.Context, blockHash string) (int64, error) {
	data, err := c.conn.Call(ctx, "chain_getHeader", blockHash)
	if err != nil {
		return 0, err
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return 0, err
	}
	return h.Number.Int(), nil
}

// accountData covers the balance shapes different runtimes answer with.
type accountData struct {
	Data *struct {
		Free json.RawMessage `json:"free"`
	} `json:"data"`
	Free json.RawMessage `json:"free"`
}

func (c *client) FreeBalance(ctx context.Context, address string) (types.Amount, error) {
	data, err := c.conn.Call(ctx, "system_account", address)
	if err != nil {
		return types.Amount{}, err
	}

	var account accountData
	if err := json.Unmarshal(data, &account); err == nil {
		if account.Data != nil && account.Data.Free != nil {
			return decodeAmount(account.Data.Free)
		}
		if account.Free != nil {
			return decodeAmount(account.Free)
		}
	}

	return decodeAmount(data)
}

// feeInfo is the payment_queryInfo answer.
type feeInfo struct {
	PartialFee json.RawMessage `json:"partialFee"`
}

func (c *client) EstimateFee(ctx context.Context, call []byte) (types.Amount, error) {
	data, err := c.conn.Call(ctx, "payment_queryInfo", "0x"+hex.EncodeToString(call))
	if err != nil {
		return types.Amount{}, err
	}

	var info feeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return types.Amount{}, err
	}
	if info.PartialFee == nil {
		return types.Amount{}, fmt.Errorf("fee info has no partialFee: %s", string(data))
	}
	return decodeAmount(info.PartialFee)
}

// Lookup checks the node's pending pool for the hash. Substrate has no
// by-hash query without an indexer, so anything not pending reports not
// found and the caller decides by mortality window.
func (c *client) Lookup(ctx context.Context, hash string) (chainconn.LookupResult, error) {
	data, err := c.conn.Call(ctx, "author_pendingExtrinsics")
	if err != nil {
		return "", err
	}

	var pending []string
	if err := json.Unmarshal(data, &pending); err != nil {
		return "", err
	}

	for _, raw := range pending {
		decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			continue
		}
		if extrinsicHash(decoded) == hash {
			return chainconn.LookupPending, nil
		}
	}

	return chainconn.LookupNotFound, nil
}

func (c *client) LatestBlockNumber(ctx context.Context) (int64, error) {
	data, err := c.conn.Call(ctx, "chain_getHeader")
	if err != nil {
		return 0, err
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return 0, err
	}
	return h.Number.Int(), nil
}

func (c *client) SubscribeHeads(ctx context.Context) (<-chan int64, error) {
	sub, err := c.conn.Subscribe(ctx, "chain_subscribeNewHeads", "chain_unsubscribeNewHeads")
	if err != nil {
		return nil, err
	}

	heads := make(chan int64, headsBuffer)
	go func() {
		defer close(heads)
		defer func() { _ = sub.Unsubscribe(context.WithoutCancel(ctx)) }()

		for {
			raw, ok := chflow.Receive(ctx, sub.Events())
			if !ok {
				return
			}

			var h header
			if err := json.Unmarshal(raw, &h); err != nil {
				continue
			}

			select {
			case heads <- h.Number.Int():
			default:
			}
		}
	}()

	return heads, nil
}

func (c *client) Ping(ctx context.Context) error {
	_, err := c.conn.Call(ctx, "system_health")
	return err
}

func (c *client) Close() error {
	return c.conn.Close()
}

// decodeAmount accepts the number encodings Substrate RPCs mix freely:
// JSON numbers, decimal strings, and 0x-prefixed hex strings.
func decodeAmount(raw json.RawMessage) (types.Amount, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if strings.HasPrefix(asString, "0x") || strings.HasPrefix(asString, "0X") {
			return types.AmountFromHexString(asString)
		}
		return types.AmountFromString(asString)
	}

	return types.AmountFromString(string(raw))
}
