package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/slotburst/service/db"
)

func runsListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List recent burst runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to list",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "gojq filter applied to the JSON output",
			},
		},
		Action: func(c *cli.Context) error {
			store, cleanup, err := openStore(c)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := store.ListRuns(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return err
			}
			return printJSON(runs, c.String("jq"))
		},
	}
}

func runsGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one burst run by id",
		ArgsUsage: "RUN_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "gojq filter applied to the JSON output",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one RUN_ID argument")
			}

			store, cleanup, err := openStore(c)
			if err != nil {
				return err
			}
			defer cleanup()

			run, err := store.GetRun(context.Background(), c.Args().First())
			if err != nil {
				return err
			}
			return printJSON(run, c.String("jq"))
		},
	}
}

func openStore(c *cli.Context) (*db.Store, func(), error) {
	databaseURL := c.String("database-url")
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for run history commands")
	}

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db.NewStore(pool), pool.Close, nil
}
