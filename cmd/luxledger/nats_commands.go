package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/luxledger/service/nats"
)

// subscribeCommand streams reconciliation updates from NATS.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to reconciliation updates",
		ArgsUsage: "[subject]",
		Description: `Subscribe to reconciliation updates published to NATS JetStream.

Updates are published to "recon.{entity}.{id}" where entity is one of
escrow, asset, or pool. With no argument this subscribes to everything.

Examples:
  luxledger nats subscribe
  luxledger nats subscribe recon.escrow.9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
  luxledger nats subscribe 'recon.pool.>' --filter '.change == "trade-recorded"'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "filter",
				Usage: "jq expression an update must satisfy to be printed (repeatable; all must match)",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "luxledger-cli",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = c.Args().First()
			}

			// Compile jq filters up front so a bad expression fails fast.
			filters := c.StringSlice("filter")
			compiled := make([]*gojq.Code, len(filters))
			for i, filter := range filters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiled[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			return streamUpdates(c.String("nats-url"), subject, c.Bool("durable"), c.String("consumer-name"), compiled, c.Bool("json"))
		},
	}
}

func streamUpdates(natsURL, subject string, durable bool, consumerName string, filters []*gojq.Code, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "Subscribed to %s (ctrl-c to stop)\n", subject)
	}

	sub, err := consumer.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()

		var update natspkg.UpdateEvent
		if err := json.Unmarshal(msg.Data(), &update); err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed update: %v\n", err)
			return
		}
		if !matchesFilters(filters, msg.Data()) {
			return
		}

		if jsonOutput {
			os.Stdout.Write(msg.Data())
			fmt.Println()
			return
		}
		fmt.Printf("%s  %-8s %-20s %s (status=%s amount=%d)\n",
			update.PublishedAt.Format("15:04:05"),
			update.Entity,
			update.Change,
			update.EntityID,
			update.Status,
			update.Amount,
		)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer sub.Stop()

	<-ctx.Done()
	return nil
}

// matchesFilters evaluates every compiled jq filter against the update; all
// must produce a truthy result.
func matchesFilters(filters []*gojq.Code, data []byte) bool {
	if len(filters) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	for _, code := range filters {
		iter := code.Run(v)
		result, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := result.(error); isErr {
			return false
		}
		if !isTruthy(result) {
			return false
		}
	}
	return true
}

// isTruthy follows jq semantics: false and null are falsy, everything else
// is truthy.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}
