package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/gabapcia/walletflow/internal/pkg/types"
	"github.com/gabapcia/walletflow/internal/tx"
	"github.com/gabapcia/walletflow/internal/txengine"
	"github.com/gabapcia/walletflow/internal/txvalidate"
)

// sendCommand returns the command that submits a native transfer and follows
// its lifecycle until it settles.
//
// Usage example:
//
//	walletflow send --chain westend --from 5Grw... --to 5Fey... --amount 1000000000000
func sendCommand(engine txengine.Service) *cli.Command {
	return &cli.Command{
		Name:        "send",
		Description: "Submits a native transfer and streams its lifecycle events.",
		Usage:       "Sends native tokens. Requires chain, from, to, and amount (or --sweep).",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "chain",
				Usage:    "Chain slug to send on",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "from",
				Usage:    "Sending address (must be signable)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Receiving address",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "amount",
				Usage: "Amount in the chain's base unit (planck, wei)",
			},
			&cli.BoolFlag{
				Name:  "sweep",
				Usage: "Transfer the entire free balance (supported chains only)",
			},
			&cli.BoolFlag{
				Name:  "ignore-warnings",
				Usage: "Proceed despite validation warnings",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			payload := tx.NativeTransfer{
				To:          c.String("to"),
				TransferAll: c.Bool("sweep"),
			}
			if raw := c.String("amount"); raw != "" {
				amount, err := types.AmountFromString(raw)
				if err != nil {
					return fmt.Errorf("invalid amount %q: %w", raw, err)
				}
				payload.Amount = amount
			} else if !payload.TransferAll {
				return errors.New("either --amount or --sweep is required")
			}

			snapshot, events, err := engine.HandleTransaction(ctx, txengine.Intent{
				Address: c.String("from"),
				Chain:   c.String("chain"),
				Payload: payload,
				Flags:   txvalidate.Flags{IgnoreWarnings: c.Bool("ignore-warnings")},
			})
			if err != nil {
				for _, findingErr := range snapshot.Errors {
					fmt.Printf("error\t%s\t%s\n", findingErr.Kind, findingErr.Message)
				}
				return err
			}

			fmt.Printf("transaction %s\n", snapshot.ID)
			for _, warning := range snapshot.Warnings {
				fmt.Printf("warning\t%s\t%s\n", warning.Kind, warning.Message)
			}

			for event := range events {
				switch event.Name {
				case tx.EventExtrinsicHash:
					fmt.Printf("%s\t%s\n", event.Name, event.ExtrinsicHash)
				case tx.EventSuccess:
					fmt.Printf("%s\tblock %d (%s)\n", event.Name, event.BlockNumber, event.BlockHash)
				case tx.EventError:
					fmt.Printf("%s\t%s\t%s\n", event.Name, event.Err.Kind, event.Err.Message)
				default:
					fmt.Println(event.Name)
				}
			}

			final, err := engine.GetTransaction(snapshot.ID)
			if err != nil {
				return nil
			}
			fmt.Printf("final status: %s\n", final.Status)
			return nil
		},
	}
}
