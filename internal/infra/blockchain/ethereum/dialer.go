package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/chainregistry"
	transporthttp "github.com/gabapcia/walletflow/internal/pkg/transport/http"
	"github.com/gabapcia/walletflow/internal/pkg/transport/jsonrpc"
)

// Dialer opens EVM chain connections. One instance serves every EVM chain;
// each Dial builds a fresh JSON-RPC client for the endpoint.
type Dialer struct{}

var _ chainconn.Dialer = Dialer{}

// Dial connects to the endpoint and verifies it serves the expected chain id
// before handing the capability out.
func (Dialer) Dial(ctx context.Context, chain chainregistry.Chain, endpoint string) (chainconn.ChainApi, error) {
	conn := jsonrpc.NewClient(transporthttp.NewClient().StandardClient(), endpoint)
	api := NewClient(conn)

	if chain.EvmChainID != 0 {
		remote, err := fetchChainID(ctx, conn)
		if err != nil {
			return nil, err
		}
		if remote != chain.EvmChainID {
			return nil, fmt.Errorf("endpoint %s serves chain id %d, expected %d", endpoint, remote, chain.EvmChainID)
		}
	} else if err := api.Ping(ctx); err != nil {
		return nil, err
	}

	return api, nil
}

// fetchChainID asks the node which chain it serves.
func fetchChainID(ctx context.Context, conn jsonrpc.Client) (uint64, error) {
	data, err := conn.Fetch(ctx, "eth_chainId")
	if err != nil {
		return 0, err
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, err
	}

	id, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", raw, err)
	}
	return id, nil
}
