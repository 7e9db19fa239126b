package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/slotburst/service/burst"
	"github.com/brojonat/slotburst/service/config"
	"github.com/brojonat/slotburst/service/db"
	"github.com/brojonat/slotburst/service/engine"
	"github.com/brojonat/slotburst/service/metrics"
	natspub "github.com/brojonat/slotburst/service/nats"
	"github.com/brojonat/slotburst/service/pool"
	sol "github.com/brojonat/slotburst/service/solana"
	"github.com/brojonat/slotburst/service/tracker"
	"github.com/brojonat/slotburst/service/verify"
	"github.com/brojonat/slotburst/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute one synchronized broadcast cycle",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wallet-dir",
				Aliases:  []string{"w"},
				Usage:    "Directory of Solana keygen JSON files (one ready signer each)",
				Required: true,
			},
			&cli.Uint64Flag{
				Name:  "lamports",
				Usage: "Lamports for each signer's self-transfer template",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "gojq filter applied to the JSON report before printing",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	logger := setupLogger(c.String("log-level"))

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Wallet collaborator: the ready signer set is fixed for the cycle.
	signers, err := wallet.LoadSigners(c.String("wallet-dir"))
	if err != nil {
		return err
	}
	templates, err := wallet.BuildTemplates(signers, c.Uint64("lamports"))
	if err != nil {
		return err
	}
	logger.Info("loaded signers", "count", len(signers))

	m := metrics.NewMetrics(nil)

	// Long-lived shared resources: channel pool and slot tracker.
	p, err := pool.New(cfg.RPCURLs, m, logger)
	if err != nil {
		return err
	}

	wsClient, err := sol.ConnectWS(ctx, cfg.WSURL)
	if err != nil {
		return err
	}
	defer wsClient.Close()

	tr := tracker.New(p.Acquire(), wsClient, cfg.TrackerSettleDelay, m, logger)
	if err := tr.Start(ctx); err != nil {
		return err
	}
	defer tr.Stop()

	// Advisory latency reading before the burst.
	if _, err := p.MeasureLatency(ctx, 3); err != nil {
		logger.Warn("latency probe failed", "error", err)
	}

	verifier := verify.NewVerifier(p, tr, verify.Policy{
		SettleWindow:       cfg.SettleWindow,
		PollInterval:       cfg.ConfirmPollInterval,
		PollTimeout:        cfg.ConfirmTimeout,
		NearMaxUniqueSlots: cfg.NearMaxUniqueSlots,
		NearMaxSpread:      cfg.NearMaxSpread,
	}, m, logger)

	eng := engine.New(
		tr, p,
		burst.NewFinalizer(logger),
		burst.NewDispatcher(p, m, logger),
		verifier,
		engine.Config{SlotOffset: cfg.SlotOffset, BoundaryTimeout: cfg.BoundaryTimeout},
		m, logger,
	)

	report, err := eng.Run(ctx, templates)
	if err != nil {
		return err
	}

	// Hand the report to the optional collaborators before printing.
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
		} else {
			defer dbPool.Close()
			if err := db.NewStore(dbPool).SaveReport(ctx, report); err != nil {
				logger.Error("failed to persist report", "error", err)
			}
		}
	}
	if cfg.NATSURL != "" {
		pub, err := natspub.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
		} else {
			defer pub.Close()
			if err := pub.PublishReport(ctx, report); err != nil {
				logger.Error("failed to publish report", "error", err)
			}
		}
	}

	return printJSON(report, c.String("jq"))
}

func latencyCommand() *cli.Command {
	return &cli.Command{
		Name:  "latency",
		Usage: "Probe channel pool latency",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "probes",
				Usage: "Number of round-trip probes",
				Value: 5,
			},
		},
		Action: func(c *cli.Context) error {
			logger := setupLogger(c.String("log-level"))
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := pool.New(cfg.RPCURLs, metrics.NewMetrics(nil), logger)
			if err != nil {
				return err
			}
			stats, err := p.MeasureLatency(ctx, c.Int("probes"))
			if err != nil {
				return err
			}
			return printJSON(stats, "")
		},
	}
}

// printJSON renders v as indented JSON on stdout, optionally filtered by a
// gojq expression.
func printJSON(v any, jqFilter string) error {
	if jqFilter == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	query, err := gojq.Parse(jqFilter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", jqFilter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", jqFilter, err)
	}

	// gojq operates on untyped JSON values, so round-trip through json.
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	iter := code.Run(doc)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter error: %w", err)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}
