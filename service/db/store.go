// Package db persists burst run history to Postgres. The store is optional:
// the engine produces reports whether or not a database is configured.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/slotburst/service/verify"
)

// Store provides database operations for run history.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Run is the persisted summary of one burst cycle.
type Run struct {
	ID           string
	StartedAt    time.Time
	TargetSlot   int64
	ChosenSlot   int64
	Dispatched   int32
	Confirmed    int32
	AllSameSlot  bool
	NearSameSlot bool
	SuccessRate  float64
	SlotSpread   int64
	ElapsedMS    int64
	CreatedAt    time.Time
}

// SaveReport writes the run summary and all per-transaction records in one
// transaction.
func (s *Store) SaveReport(ctx context.Context, report *verify.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save report: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO burst_runs (
			id, started_at, target_slot, chosen_slot, dispatched, confirmed,
			all_same_slot, near_same_slot, success_rate, slot_spread, elapsed_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		report.RunID,
		report.StartedAt,
		int64(report.TargetSlot),
		int64(report.ChosenSlot),
		int32(report.Dispatched),
		int32(report.Confirmed),
		report.AllSameSlot,
		report.NearSameSlot,
		report.SuccessRate,
		int64(report.SlotSpread),
		report.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}

	for _, rec := range report.Records {
		_, err = tx.Exec(ctx, `
			INSERT INTO burst_records (
				run_id, signer, signature, sent, confirmed, slot, confirmed_at, error
			) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''))`,
			report.RunID,
			rec.Signer,
			rec.Signature,
			rec.Sent,
			rec.Confirmed,
			int64(rec.Slot),
			rec.ConfirmedAt,
			rec.Error,
		)
		if err != nil {
			return fmt.Errorf("insert record for %s: %w", rec.Signer, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save report: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int32) ([]*Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, target_slot, chosen_slot, dispatched, confirmed,
		       all_same_slot, near_same_slot, success_rate, slot_spread,
		       elapsed_ms, created_at
		FROM burst_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.StartedAt, &run.TargetSlot, &run.ChosenSlot,
			&run.Dispatched, &run.Confirmed, &run.AllSameSlot, &run.NearSameSlot,
			&run.SuccessRate, &run.SlotSpread, &run.ElapsedMS, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id, or pgx.ErrNoRows if it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, started_at, target_slot, chosen_slot, dispatched, confirmed,
		       all_same_slot, near_same_slot, success_rate, slot_spread,
		       elapsed_ms, created_at
		FROM burst_runs
		WHERE id = $1`, id).Scan(
		&run.ID, &run.StartedAt, &run.TargetSlot, &run.ChosenSlot,
		&run.Dispatched, &run.Confirmed, &run.AllSameSlot, &run.NearSameSlot,
		&run.SuccessRate, &run.SlotSpread, &run.ElapsedMS, &run.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}
