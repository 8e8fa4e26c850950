package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// historyCommand returns the command that prints an account's transaction
// history, newest first.
//
// Usage example:
//
//	walletflow history --chain westend --address 5Grw...
func historyCommand(history HistoryStore) *cli.Command {
	return &cli.Command{
		Name:        "history",
		Description: "Lists the stored transaction history of one account.",
		Usage:       "Prints history items for a chain and address.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chain",
				Usage:    "Chain slug",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Usage:    "Account address",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			items, err := history.Query(ctx, c.String("chain"), c.String("address"))
			if err != nil {
				return err
			}

			for _, item := range items {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\n",
					item.Timestamp.Format("2006-01-02 15:04:05"),
					item.Direction, item.Kind, item.Amount, item.Status, item.Counterparty)
			}
			return nil
		},
	}
}

// forgetCommand returns the command that drops an account's stored history.
//
// Usage example:
//
//	walletflow forget --chain westend --address 5Grw...
func forgetCommand(history HistoryStore) *cli.Command {
	return &cli.Command{
		Name:        "forget",
		Description: "Removes every stored history item of one account.",
		Usage:       "Deletes history for a chain and address.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chain",
				Usage:    "Chain slug",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Usage:    "Account address to forget",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return history.RemoveByAddress(ctx, c.String("chain"), c.String("address"))
		},
	}
}
