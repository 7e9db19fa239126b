package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Solana RPC Metrics
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec

	// Slot Tracker Metrics
	slotUpdatesTotal   prometheus.Counter
	boundaryWaitMillis prometheus.Histogram

	// Dispatch Metrics
	dispatchesTotal   *prometheus.CounterVec
	dispatchLatency   *prometheus.HistogramVec
	burstSizes        prometheus.Histogram
	channelPoolProbes *prometheus.HistogramVec

	// Verification Metrics
	confirmationsTotal *prometheus.CounterVec
	slotSpread         prometheus.Histogram
	sameSlotRunsTotal  *prometheus.CounterVec
	successRate        prometheus.Gauge

	// Cycle Metrics
	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"method", "endpoint"},
		),

		slotUpdatesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "slot_updates_total",
				Help: "Total number of slot-advance notifications received",
			},
		),
		boundaryWaitMillis: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "boundary_wait_milliseconds",
				Help:    "Time spent blocked waiting for the target slot boundary",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),

		dispatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatches_total",
				Help: "Total number of transaction submissions by status",
			},
			[]string{"status", "endpoint"},
		),
		dispatchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatch_latency_seconds",
				Help:    "Per-transaction send latency measured from burst start",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"endpoint"},
		),
		burstSizes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "burst_size_transactions",
				Help:    "Number of transactions dispatched per burst",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
			},
		),
		channelPoolProbes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "channel_probe_latency_seconds",
				Help:    "Round-trip latency of channel pool health probes",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"endpoint"},
		),

		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirmations_total",
				Help: "Total number of transaction confirmation checks by result",
			},
			[]string{"result"},
		),
		slotSpread: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "landed_slot_spread",
				Help:    "Spread (max-min) of landed slots across one burst",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 25},
			},
		),
		sameSlotRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "same_slot_runs_total",
				Help: "Total number of bursts by same-slot verdict",
			},
			[]string{"verdict"},
		),
		successRate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "burst_success_rate_percent",
				Help: "Confirmation success rate of the most recent burst",
			},
		),

		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cycles_total",
				Help: "Total number of broadcast cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cycle_duration_seconds",
				Help:    "End-to-end duration of a broadcast cycle",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60},
			},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordSlotUpdate records a slot-advance notification.
func (m *Metrics) RecordSlotUpdate() {
	if m == nil {
		return
	}
	m.slotUpdatesTotal.Inc()
}

// RecordBoundaryWait records how long a caller was blocked on the slot boundary.
func (m *Metrics) RecordBoundaryWait(millis float64) {
	if m == nil {
		return
	}
	m.boundaryWaitMillis.Observe(millis)
}

// RecordDispatch records one transaction submission attempt.
func (m *Metrics) RecordDispatch(status, endpoint string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(status, endpoint).Inc()
	m.dispatchLatency.WithLabelValues(endpoint).Observe(latencySeconds)
}

// RecordBurstSize records the number of transactions in one burst.
func (m *Metrics) RecordBurstSize(n int) {
	if m == nil {
		return
	}
	m.burstSizes.Observe(float64(n))
}

// RecordChannelProbe records a channel pool latency probe.
func (m *Metrics) RecordChannelProbe(endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.channelPoolProbes.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordConfirmation records the result of one confirmation check
// ("confirmed", "unconfirmed", or "failed").
func (m *Metrics) RecordConfirmation(result string) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(result).Inc()
}

// RecordVerdict records the burst verdict ("same_slot", "near_same_slot",
// or "scattered") along with the landed slot spread and success rate.
func (m *Metrics) RecordVerdict(verdict string, spread uint64, successRate float64) {
	if m == nil {
		return
	}
	m.sameSlotRunsTotal.WithLabelValues(verdict).Inc()
	m.slotSpread.Observe(float64(spread))
	m.successRate.Set(successRate)
}

// RecordCycle records a completed cycle with its outcome ("completed",
// "boundary_timeout", or "error") and total duration.
func (m *Metrics) RecordCycle(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(durationSeconds)
}
