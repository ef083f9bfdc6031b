package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/luxledger/service/db"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(os.Stderr, "schema applied")
			return nil
		},
	}
}

func listEscrowsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-escrows",
		Usage:   "List escrow records",
		Aliases: []string{"escrows"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (initiated, listed, funded, released, cancelled)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of escrows",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			escrows, err := store.ListEscrows(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list escrows: %w", err)
			}

			// Filter by status if specified
			statusFilter := c.String("status")
			if statusFilter != "" {
				filtered := make([]*db.Escrow, 0)
				for _, e := range escrows {
					if string(e.Status) == statusFilter {
						filtered = append(filtered, e)
					}
				}
				escrows = filtered
			}

			if c.Bool("json") {
				return outputJSON(escrows)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ESCROW\tASSET\tSELLER\tSTATUS\tPRICE\tFUNDED\tUPDATED")
			for _, e := range escrows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.EscrowPDA,
					e.AssetMint,
					e.Seller,
					e.Status,
					formatLamports(e.ListingPrice),
					formatLamports(e.FundedAmount),
					e.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d escrows\n", len(escrows))
			return nil
		},
	}
}

func getEscrowCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-escrow",
		Usage:     "Get escrow details including the audit trail",
		Aliases:   []string{"get"},
		ArgsUsage: "<escrow_pda>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: escrow address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			esc, err := store.GetEscrow(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get escrow: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(esc)
			}

			fmt.Printf("Escrow:        %s\n", esc.EscrowPDA)
			fmt.Printf("Asset:         %s\n", esc.AssetMint)
			fmt.Printf("Seller:        %s\n", esc.Seller)
			if esc.Buyer != nil {
				fmt.Printf("Buyer:         %s\n", *esc.Buyer)
			}
			fmt.Printf("Status:        %s\n", esc.Status)
			fmt.Printf("Listing Price: %s\n", formatLamports(esc.ListingPrice))
			fmt.Printf("Funded Amount: %s\n", formatLamports(esc.FundedAmount))
			if esc.CancelReason != nil {
				fmt.Printf("Cancel Reason: %s\n", *esc.CancelReason)
			}
			fmt.Printf("Created:       %s\n", esc.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:       %s\n", esc.UpdatedAt.Format(time.RFC3339))
			if len(esc.Audit) > 0 {
				fmt.Println("Audit:")
				for _, a := range esc.Audit {
					fmt.Printf("  %s  %-18s %s\n", a.At.Format(time.RFC3339), a.Transition, a.Signature)
				}
			}
			return nil
		},
	}
}

func listAssetsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-assets",
		Usage:   "List tokenized assets",
		Aliases: []string{"assets"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of assets",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			assets, err := store.ListAssets(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list assets: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(assets)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MINT\tOWNER\tSTATUS\tTRANSFERS\tUPDATED")
			for _, a := range assets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					a.Mint,
					a.Owner,
					a.Status,
					len(a.TransferHistory),
					a.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d assets\n", len(assets))
			return nil
		},
	}
}

func listDepositsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-deposits",
		Usage:   "List treasury deposits",
		Aliases: []string{"deposits"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Usage:   "Filter by deposit type (escrow_fee, platform_fee, pool_royalty, direct_deposit)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of deposits",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			deposits, err := store.ListTreasuryDeposits(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list deposits: %w", err)
			}

			typeFilter := c.String("type")
			if typeFilter != "" {
				filtered := make([]*db.TreasuryDeposit, 0)
				for _, d := range deposits {
					if string(d.DepositType) == typeFilter {
						filtered = append(filtered, d)
					}
				}
				deposits = filtered
			}

			if c.Bool("json") {
				return outputJSON(deposits)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tTYPE\tAMOUNT\tFROM\tVERIFIED\tCREATED")
			for _, d := range deposits {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%t\t%s\n",
					d.Signature,
					d.DepositType,
					d.Amount,
					d.FromAddress,
					d.Verified,
					d.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d deposits\n", len(deposits))
			return nil
		},
	}
}

func listPoolsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-pools",
		Usage:   "List pools and their trading statistics",
		Aliases: []string{"pools"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of pools",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			pools, err := store.ListPools(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list pools: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(pools)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tASSET\tTOKEN STATUS\tTRADES\tVOLUME\tLAST PRICE\tLIQUIDITY\tGRADUATED")
			for _, p := range pools {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%d\t%t\n",
					p.ID,
					p.AssetMint,
					p.TokenStatus,
					p.TradeCount,
					p.TotalVolume,
					formatLamports(p.LastPrice),
					p.Liquidity,
					p.Graduated,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d pools\n", len(pools))
			return nil
		},
	}
}

func listLedgerCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List ledger transactions",
		Aliases: []string{"txs"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions",
				Value:   50,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: json (default) or human",
				Value: "json",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txns, err := store.ListLedgerEntries(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list ledger entries: %w", err)
			}

			// Default to JSON output (stdout = JSON, human output opt-in)
			if c.String("format") == "json" {
				return outputJSON(txns)
			}

			if len(txns) == 0 {
				fmt.Println("No transactions found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tTYPE\tAMOUNT\tESCROW\tASSET\tCREATED")
			for _, txn := range txns {
				escrow, asset := "-", "-"
				if txn.EscrowPDA != nil {
					escrow = *txn.EscrowPDA
				}
				if txn.AssetMint != nil {
					asset = *txn.AssetMint
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					txn.Signature,
					txn.TxType,
					txn.Amount,
					escrow,
					asset,
					txn.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()
			return nil
		},
	}
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatLamports(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
