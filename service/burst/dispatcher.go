package burst

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/slotburst/service/metrics"
	"github.com/brojonat/slotburst/service/pool"
)

// Dispatcher fires a batch of finalized transactions across the channel pool
// as close to simultaneously as the runtime allows. There is no retry on
// failure: a retry would reintroduce delay that defeats the tight burst, so a
// failed send is recorded as a terminal outcome for that transaction.
type Dispatcher struct {
	pool    *pool.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher over the given channel pool.
func NewDispatcher(p *pool.Pool, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{pool: p, logger: logger, metrics: m}
}

// Dispatch sends all transactions concurrently, each through the channel at
// its index modulo the pool size, and waits only for the endpoints' immediate
// accept/reject responses, not for confirmation. No ordering is enforced
// between transactions. The returned slice is index-aligned with txs.
func (d *Dispatcher) Dispatch(ctx context.Context, txs []*FinalizedTransaction) []Outcome {
	outcomes := make([]Outcome, len(txs))
	start := time.Now()

	d.metrics.RecordBurstSize(len(txs))
	d.logger.InfoContext(ctx, "dispatching burst",
		"transactions", len(txs),
		"channels", d.pool.Size(),
	)

	var wg sync.WaitGroup
	for i, ftx := range txs {
		ch := d.pool.Get(i)
		wg.Add(1)
		go func(i int, ftx *FinalizedTransaction) {
			defer wg.Done()

			sig, err := ch.SendTransaction(ctx, ftx.Tx)
			latency := time.Since(start)

			out := Outcome{
				Signer:  ftx.Signer,
				Latency: latency,
			}
			if err != nil {
				out.Err = fmt.Errorf("%w: %v", ErrSubmission, err)
				d.metrics.RecordDispatch("error", ch.Endpoint(), latency.Seconds())
				d.logger.WarnContext(ctx, "send rejected",
					"signer", ftx.Signer.String(),
					"endpoint", ch.Endpoint(),
					"elapsed_ms", latency.Milliseconds(),
					"error", err,
				)
			} else {
				out.Signature = sig
				out.Sent = true
				d.metrics.RecordDispatch("success", ch.Endpoint(), latency.Seconds())
				d.logger.InfoContext(ctx, "sent",
					"signer", ftx.Signer.String(),
					"signature", sig.String(),
					"endpoint", ch.Endpoint(),
					"elapsed_ms", latency.Milliseconds(),
				)
			}
			outcomes[i] = out
		}(i, ftx)
	}
	wg.Wait()

	return outcomes
}
