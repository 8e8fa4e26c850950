package substrate

import (
	"context"

	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/pkg/transport/wsrpc"
)

// Dialer opens Substrate chain connections over websocket JSON-RPC.
type Dialer struct{}

var _ chainconn.Dialer = Dialer{}

// Dial connects to the endpoint and verifies the node answers a health
// probe before handing the capability out.
func (Dialer) Dial(ctx context.Context, chain chainregistry.Chain, endpoint string) (chainconn.ChainApi, error) {
	conn, err := wsrpc.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	api := NewClient(conn)
	if err := api.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return api, nil
}
