package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/gabapcia/walletflow/internal/pkg/logger"
)

// startCommand returns the command that runs the backend: it connects every
// registered chain, reconciles history left over from the previous run, and
// serves until interrupted.
//
// Usage example:
//
//	walletflow start
func startCommand(svcs Services) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Connects all registered chains and runs the transaction backend.",
		Usage:       "Runs until Ctrl+C or a termination signal.",
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			defer close(quit)

			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			for _, chain := range svcs.Registry.List() {
				if err := svcs.Connections.EnableChain(ctx, chain.Slug); err != nil {
					// a chain that will not connect must not keep the
					// backend from serving the others
					logger.Error(ctx, "chain connection failed", "chain.slug", chain.Slug, "error", err)
				}
			}
			defer svcs.Connections.Close()
			defer svcs.Engine.Close()

			recoveryCtx, cancelRecovery := context.WithCancel(ctx)
			defer cancelRecovery()
			go func() {
				if err := svcs.Recovery.Run(recoveryCtx); err != nil && recoveryCtx.Err() == nil {
					logger.Error(ctx, "history recovery aborted", "error", err)
				}
			}()

			<-quit
			return nil
		},
	}
}
