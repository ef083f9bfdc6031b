package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/luxledger/client"
	"github.com/brojonat/luxledger/service/events"
)

// sendEventsCommand signs and submits an event payload to a running server.
// Useful for replaying dropped webhook deliveries and for local testing.
func sendEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Sign and submit an event payload to a webhook endpoint",
		ArgsUsage: "[file]",
		Description: `Reads a JSON event payload (a single object or an array) from the given
file, or from stdin when no file is given, signs it with the source's webhook
secret, and POSTs it to the server.

Examples:
  luxledger events send --source chain batch.json
  cat trade.json | luxledger events send --source trading`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "source",
				Usage:    "Event source: chain or trading",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "secret",
				Usage:   "Webhook secret for the source",
				EnvVars: []string{"WEBHOOK_SECRET"},
			},
		},
		Action: func(c *cli.Context) error {
			source := events.Source(c.String("source"))
			if source != events.SourceChain && source != events.SourceTrading {
				return fmt.Errorf("source must be %q or %q", events.SourceChain, events.SourceTrading)
			}

			secret := c.String("secret")
			if secret == "" {
				return fmt.Errorf("secret is required (set WEBHOOK_SECRET env var or use --secret)")
			}

			var payload []byte
			var err error
			if c.NArg() > 0 {
				payload, err = os.ReadFile(c.Args().First())
			} else {
				payload, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}

			cl := client.New(c.String("server-url"), client.WithSourceSecret(source, secret))
			result, err := cl.SendEvents(context.Background(), source, payload)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Printf("processed: %d, failed: %d, total: %d\n",
				result.Processed, result.Failed, result.Total)
			return nil
		},
	}
}
