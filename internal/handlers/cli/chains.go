package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/chainregistry"
)

// enableChainCommand returns the command that opens a connection for one
// registered chain.
//
// Usage example:
//
//	walletflow enable-chain --chain westend
func enableChainCommand(conns chainconn.Service) *cli.Command {
	return &cli.Command{
		Name:        "enable-chain",
		Description: "Connects a registered chain and starts its health monitoring.",
		Usage:       "Enables a chain by slug.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chain",
				Usage:    "Chain slug (e.g., polkadot, sepolia)",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return conns.EnableChain(ctx, c.String("chain"))
		},
	}
}

// disableChainCommand returns the command that tears a chain connection down.
//
// Usage example:
//
//	walletflow disable-chain --chain westend
func disableChainCommand(conns chainconn.Service) *cli.Command {
	return &cli.Command{
		Name:        "disable-chain",
		Description: "Disconnects a chain. In-flight submissions surface connection errors.",
		Usage:       "Disables a chain by slug.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chain",
				Usage:    "Chain slug to disconnect",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return conns.DisableChain(ctx, c.String("chain"))
		},
	}
}

// listChainsCommand returns the command that prints every registered chain
// and its connection state.
//
// Usage example:
//
//	walletflow chains
func listChainsCommand(registry chainregistry.Service, conns chainconn.Service) *cli.Command {
	return &cli.Command{
		Name:        "chains",
		Description: "Lists registered chains with their family, endpoint, and connection state.",
		Usage:       "Prints the chain catalog.",
		Action: func(ctx context.Context, c *cli.Command) error {
			for _, chain := range registry.List() {
				status := "disabled"
				if state, ok := conns.State(chain.Slug); ok {
					status = string(state.Status)
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", chain.Slug, chain.Family, chain.CurrentEndpoint, status)
			}
			return nil
		},
	}
}
