// Package tracker maintains the latest known slot by subscribing to
// slot-advance notifications and lets callers block until a target slot is
// reached. The cached slot is single-writer (the subscription goroutine) and
// multi-reader; readers never block the writer.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/slotburst/service/metrics"
	sol "github.com/brojonat/slotburst/service/solana"
)

// ErrBoundaryTimeout indicates the target slot was not observed in time.
// It is fatal for the current cycle; the caller may restart the whole cycle.
var ErrBoundaryTimeout = errors.New("slot boundary wait timed out")

// ErrStopped indicates the tracker was stopped while a caller was waiting.
var ErrStopped = errors.New("tracker stopped")

type waiter struct {
	target uint64
	ch     chan struct{}
}

// Tracker caches the latest known slot from a websocket subscription.
type Tracker struct {
	rpc     *sol.Client
	ws      sol.WSClient
	logger  *slog.Logger
	metrics *metrics.Metrics

	// settleDelay biases AwaitSlot returns toward the start of the target
	// slot's acceptance window rather than its tail. Trade-off: larger values
	// improve the odds the leader has started accepting for the slot, but
	// risk missing the window entirely.
	settleDelay time.Duration

	mu      sync.Mutex
	current uint64
	waiters []waiter
	started bool

	stopOnce sync.Once
	done     chan struct{}
	sub      sol.SlotSubscription
}

// New creates a Tracker. The rpc client seeds the initial slot; the ws client
// supplies slot-advance notifications after that.
func New(rpcClient *sol.Client, wsClient sol.WSClient, settleDelay time.Duration, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	return &Tracker{
		rpc:         rpcClient,
		ws:          wsClient,
		logger:      logger,
		metrics:     m,
		settleDelay: settleDelay,
		done:        make(chan struct{}),
	}
}

// Start seeds the current slot over RPC and begins consuming slot-advance
// notifications. It returns sol.ErrConnection (wrapped) if neither the RPC
// endpoint nor the websocket endpoint is usable.
func (t *Tracker) Start(ctx context.Context) error {
	slot, err := t.rpc.CurrentSlot(ctx)
	if err != nil {
		return fmt.Errorf("seed current slot: %w", err)
	}

	sub, err := t.ws.SlotSubscribe()
	if err != nil {
		return fmt.Errorf("%w: %v", sol.ErrConnection, err)
	}

	t.mu.Lock()
	t.current = slot
	t.started = true
	t.sub = sub
	t.mu.Unlock()

	t.logger.InfoContext(ctx, "slot tracker started", "slot", slot)

	go t.consume(ctx, sub)
	return nil
}

// consume is the single writer of the cached slot.
func (t *Tracker) consume(ctx context.Context, sub sol.SlotSubscription) {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		res, err := sub.Recv(ctx)
		if err != nil {
			select {
			case <-t.done:
			case <-ctx.Done():
			default:
				t.logger.Error("slot subscription closed", "error", err)
				t.Stop()
			}
			return
		}
		if res == nil {
			continue
		}

		t.advance(res.Slot)
		t.metrics.RecordSlotUpdate()
	}
}

// advance publishes a newly observed slot and wakes satisfied waiters.
// Out-of-order notifications below the cached slot are ignored so the
// cached value stays monotonic.
func (t *Tracker) advance(slot uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slot <= t.current {
		return
	}
	t.current = slot

	remaining := t.waiters[:0]
	for _, w := range t.waiters {
		if slot >= w.target {
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	t.waiters = remaining
}

// Current returns the last known slot without blocking.
func (t *Tracker) Current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// AwaitSlot blocks until the tracker observes a slot >= target, then sleeps
// the settle delay and returns. It returns ErrBoundaryTimeout if the target
// is not observed within timeout, ErrStopped if the tracker is stopped while
// waiting, or the context error on cancellation.
func (t *Tracker) AwaitSlot(ctx context.Context, target uint64, timeout time.Duration) error {
	start := time.Now()

	t.mu.Lock()
	if t.current >= target {
		t.mu.Unlock()
		return t.settle(ctx, target, start)
	}
	w := waiter{target: target, ch: make(chan struct{})}
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ch:
		return t.settle(ctx, target, start)
	case <-timer.C:
		t.removeWaiter(w)
		return fmt.Errorf("%w: slot %d not reached within %v (current %d)",
			ErrBoundaryTimeout, target, timeout, t.Current())
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		t.removeWaiter(w)
		return ctx.Err()
	}
}

func (t *Tracker) settle(ctx context.Context, target uint64, start time.Time) error {
	if t.settleDelay > 0 {
		timer := time.NewTimer(t.settleDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	waited := time.Since(start)
	t.metrics.RecordBoundaryWait(float64(waited.Milliseconds()))
	t.logger.DebugContext(ctx, "slot boundary reached",
		"target", target,
		"current", t.Current(),
		"waited_ms", waited.Milliseconds(),
	)
	return nil
}

func (t *Tracker) removeWaiter(w waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.waiters {
		if t.waiters[i].ch == w.ch {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}

// Stop tears down the subscription and wakes all waiters with ErrStopped.
// Safe to call multiple times.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		sub := t.sub
		t.sub = nil
		t.waiters = nil
		t.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		t.logger.Info("slot tracker stopped")
	})
}
