// Package pool holds a small fixed set of independent RPC channels used to
// spread a burst across endpoints. One channel risks local rate limiting;
// too many risk overwhelming the remote side, so the pool size is validated
// to 2-5 at construction and never grows.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/brojonat/slotburst/service/metrics"
	sol "github.com/brojonat/slotburst/service/solana"
)

// Pool is a fixed, pre-established set of RPC channels.
type Pool struct {
	channels []*sol.Client
	next     atomic.Uint64
	logger   *slog.Logger
}

// New builds a pool with one channel per endpoint URL.
func New(rpcURLs []string, m *metrics.Metrics, logger *slog.Logger) (*Pool, error) {
	if len(rpcURLs) < 2 || len(rpcURLs) > 5 {
		return nil, fmt.Errorf("pool requires 2-5 endpoints, got %d", len(rpcURLs))
	}
	channels := make([]*sol.Client, len(rpcURLs))
	for i, u := range rpcURLs {
		channels[i] = sol.NewClient(sol.NewRPCClient(u), u, m, logger)
	}
	return &Pool{channels: channels, logger: logger}, nil
}

// NewFromClients builds a pool from pre-constructed clients. Used by tests
// and anywhere the RPC layer is already wrapped.
func NewFromClients(channels []*sol.Client, logger *slog.Logger) (*Pool, error) {
	if len(channels) < 2 || len(channels) > 5 {
		return nil, fmt.Errorf("pool requires 2-5 channels, got %d", len(channels))
	}
	return &Pool{channels: channels, logger: logger}, nil
}

// Size returns the number of channels in the pool.
func (p *Pool) Size() int {
	return len(p.channels)
}

// Acquire returns the next channel round-robin. It never blocks.
func (p *Pool) Acquire() *sol.Client {
	n := p.next.Add(1) - 1
	return p.channels[n%uint64(len(p.channels))]
}

// Get returns the channel for index i modulo the pool size. The dispatcher
// uses this so transaction i deterministically maps to a channel.
func (p *Pool) Get(i int) *sol.Client {
	return p.channels[i%len(p.channels)]
}

// LatencyStats summarizes round-trip probes against one channel.
type LatencyStats struct {
	Endpoint string
	Probes   int
	Min      time.Duration
	Max      time.Duration
	Avg      time.Duration
}

// MeasureLatency issues cheap round-trip probes against one channel to
// estimate current network latency. Advisory only: the result feeds logging
// and telemetry, never correctness.
func (p *Pool) MeasureLatency(ctx context.Context, probes int) (*LatencyStats, error) {
	if probes < 1 {
		probes = 3
	}
	ch := p.Acquire()

	stats := &LatencyStats{Endpoint: ch.Endpoint(), Probes: probes}
	var total time.Duration
	for i := 0; i < probes; i++ {
		start := time.Now()
		if err := ch.Health(ctx); err != nil {
			return nil, fmt.Errorf("latency probe %d/%d: %w", i+1, probes, err)
		}
		elapsed := time.Since(start)
		total += elapsed
		if stats.Min == 0 || elapsed < stats.Min {
			stats.Min = elapsed
		}
		if elapsed > stats.Max {
			stats.Max = elapsed
		}
	}
	stats.Avg = total / time.Duration(probes)

	p.logger.InfoContext(ctx, "measured channel latency",
		"endpoint", stats.Endpoint,
		"probes", probes,
		"min_ms", stats.Min.Milliseconds(),
		"avg_ms", stats.Avg.Milliseconds(),
		"max_ms", stats.Max.Milliseconds(),
	)
	return stats, nil
}
