// Package cli exposes the walletflow commands: running the backend, managing
// chain connections, sending transactions, and inspecting history.
package cli

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/gabapcia/walletflow/internal/chainconn"
	"github.com/gabapcia/walletflow/internal/chainregistry"
	"github.com/gabapcia/walletflow/internal/tx"
	"github.com/gabapcia/walletflow/internal/txengine"
	"github.com/gabapcia/walletflow/internal/txrecovery"
)

// HistoryStore is the slice of the history storage the inspection commands
// need.
type HistoryStore interface {
	Query(ctx context.Context, chain, address string) ([]tx.HistoryItem, error)
	RemoveByAddress(ctx context.Context, chain, address string) error
}

// Services bundles everything the commands operate on.
type Services struct {
	Registry    chainregistry.Service
	Connections chainconn.Service
	Engine      txengine.Service
	Recovery    txrecovery.Service
	History     HistoryStore
}

// Run registers all commands and executes the CLI.
func Run(ctx context.Context, svcs Services) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "walletflow",
		Description:           "Command-line interface for the walletflow transaction backend.",
		Usage:                 "walletflow [command] [flags]",
		Commands: []*cli.Command{
			startCommand(svcs),
			enableChainCommand(svcs.Connections),
			disableChainCommand(svcs.Connections),
			listChainsCommand(svcs.Registry, svcs.Connections),
			sendCommand(svcs.Engine),
			historyCommand(svcs.History),
			forgetCommand(svcs.History),
		},
	}

	return app.Run(ctx, os.Args)
}
