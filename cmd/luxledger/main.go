package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "luxledger",
		Usage: "Marketplace event reconciliation service CLI",
		Description: `A command-line tool for managing and debugging the luxledger service.

Use this CLI to inspect database state, stream reconciliation updates from
NATS, and replay event batches against a running server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
					listEscrowsCommand(),
					getEscrowCommand(),
					listAssetsCommand(),
					listDepositsCommand(),
					listPoolsCommand(),
					listLedgerCommand(),
				},
			},
			// NATS reconciliation update streaming
			{
				Name:  "nats",
				Usage: "NATS reconciliation update streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Event submission commands
			{
				Name:  "events",
				Usage: "Webhook event submission commands",
				Subcommands: []*cli.Command{
					sendEventsCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Server URL for health checks and event submission",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
