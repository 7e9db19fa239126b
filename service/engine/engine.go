// Package engine coordinates one synchronized broadcast cycle: observe the
// current slot, pick a target boundary, wait for it, finalize and fire every
// transaction in a single burst, then verify inclusion.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/slotburst/service/burst"
	"github.com/brojonat/slotburst/service/metrics"
	"github.com/brojonat/slotburst/service/pool"
	"github.com/brojonat/slotburst/service/tracker"
	"github.com/brojonat/slotburst/service/verify"
	"github.com/google/uuid"
)

// State identifies where in the cycle the engine is. Transitions are strictly
// forward; Failed is terminal and only reachable from WaitingForBoundary.
type State string

const (
	StateIdle               State = "idle"
	StatePoolReady          State = "pool_ready"
	StateSlotObserved       State = "slot_observed"
	StateTargetChosen       State = "target_chosen"
	StateWaitingForBoundary State = "waiting_for_boundary"
	StateBoundaryReached    State = "boundary_reached"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Config holds the timing knobs for one cycle.
type Config struct {
	// SlotOffset is K: the target slot is the observed slot plus K. K must be
	// at least 2; K=1 risks the boundary passing before every template is
	// finalized and dispatched, while a large K wastes time and lets network
	// jitter desynchronize the burst.
	SlotOffset      uint64
	BoundaryTimeout time.Duration
}

// Engine runs broadcast cycles. The tracker and pool are long-lived shared
// resources owned by the caller; the engine only borrows them.
type Engine struct {
	tracker    *tracker.Tracker
	pool       *pool.Pool
	finalizer  *burst.Finalizer
	dispatcher *burst.Dispatcher
	verifier   *verify.Verifier
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics

	state State
}

// New creates an Engine.
func New(
	tr *tracker.Tracker,
	p *pool.Pool,
	f *burst.Finalizer,
	d *burst.Dispatcher,
	v *verify.Verifier,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		tracker:    tr,
		pool:       p,
		finalizer:  f,
		dispatcher: d,
		verifier:   v,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		state:      StateIdle,
	}
}

// State returns the engine's current cycle state.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) transition(ctx context.Context, next State) {
	e.logger.DebugContext(ctx, "cycle state transition",
		"from", string(e.state),
		"to", string(next),
	)
	e.state = next
}

// Run executes one full cycle over the supplied templates and returns the
// inclusion report. Every template yields exactly one record in the report;
// the broadcast uses exactly the signers supplied, with no subsetting or
// reordering. A boundary timeout aborts the cycle before anything is
// finalized or sent and returns tracker.ErrBoundaryTimeout (wrapped) with no
// report; per-transaction failures after dispatch never abort the cycle.
func (e *Engine) Run(ctx context.Context, templates []burst.Template) (*verify.Report, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("no templates to broadcast")
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	logger := e.logger.With("run_id", runID)

	e.transition(ctx, StatePoolReady)

	// First successful read of the current slot.
	observed := e.tracker.Current()
	e.transition(ctx, StateSlotObserved)

	target := observed + e.cfg.SlotOffset
	e.transition(ctx, StateTargetChosen)
	logger.InfoContext(ctx, "target slot chosen",
		"observed", observed,
		"target", target,
		"offset", e.cfg.SlotOffset,
		"transactions", len(templates),
	)

	e.transition(ctx, StateWaitingForBoundary)
	if err := e.tracker.AwaitSlot(ctx, target, e.cfg.BoundaryTimeout); err != nil {
		e.transition(ctx, StateFailed)
		e.metrics.RecordCycle("boundary_timeout", time.Since(startedAt).Seconds())
		return nil, fmt.Errorf("cycle aborted: %w", err)
	}
	e.transition(ctx, StateBoundaryReached)

	// The freshness token is fetched immediately at the boundary and shared
	// read-only across every finalize call in this cycle.
	hash, err := e.pool.Acquire().FetchBlockhash(ctx)
	if err != nil {
		e.transition(ctx, StateFailed)
		e.metrics.RecordCycle("error", time.Since(startedAt).Seconds())
		return nil, fmt.Errorf("cycle aborted: %w", err)
	}
	logger.InfoContext(ctx, "boundary reached, blockhash fetched",
		"target", target,
		"blockhash", hash.Hash.String(),
		"hash_slot", hash.Slot,
	)

	results := e.finalizer.FinalizeAll(ctx, templates, hash)

	// Signing failures isolate their transaction: they become failed outcomes
	// up front while the rest of the batch is dispatched.
	var finalized []*burst.FinalizedTransaction
	var failed []burst.Outcome
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, burst.Outcome{Signer: res.Signer, Err: res.Err})
			continue
		}
		finalized = append(finalized, res.Tx)
	}

	outcomes := e.dispatcher.Dispatch(ctx, finalized)
	outcomes = append(outcomes, failed...)

	report, err := e.verifier.Verify(ctx, outcomes)
	if err != nil {
		e.transition(ctx, StateFailed)
		e.metrics.RecordCycle("error", time.Since(startedAt).Seconds())
		return nil, fmt.Errorf("verification aborted: %w", err)
	}
	report.RunID = runID
	report.StartedAt = startedAt
	report.TargetSlot = target
	report.Elapsed = time.Since(startedAt)

	e.transition(ctx, StateDone)
	e.metrics.RecordCycle("completed", report.Elapsed.Seconds())
	logger.InfoContext(ctx, "cycle complete",
		"verdict", report.Verdict(),
		"chosen_slot", report.ChosenSlot,
		"success_rate", report.SuccessRate,
		"elapsed", report.Elapsed.String(),
	)
	return report, nil
}
