// Package verify polls the ledger after a burst and decides whether the
// burst achieved same-slot inclusion.
package verify

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/brojonat/slotburst/service/burst"
	"github.com/brojonat/slotburst/service/metrics"
	"github.com/brojonat/slotburst/service/pool"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// statusBatchSize is the getSignatureStatuses request cap imposed by the RPC.
const statusBatchSize = 256

// SlotSource supplies the current slot for the report's display fallback.
// The tracker satisfies it.
type SlotSource interface {
	Current() uint64
}

// Policy holds the verification timing and the lenient same-slot thresholds.
// The lenient thresholds are heuristics, not correctness criteria; tune them
// to the target ledger's block cadence.
type Policy struct {
	// SettleWindow is the unconditional wait after dispatch before the first
	// status poll. Shorter reports faster but risks false negatives from
	// checking too early; longer delays the report.
	SettleWindow time.Duration
	PollInterval time.Duration
	PollTimeout  time.Duration

	NearMaxUniqueSlots int
	NearMaxSpread      uint64
}

// Verifier resolves burst outcomes into an inclusion report.
type Verifier struct {
	pool    *pool.Pool
	slots   SlotSource
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewVerifier creates a Verifier.
func NewVerifier(p *pool.Pool, slots SlotSource, policy Policy, m *metrics.Metrics, logger *slog.Logger) *Verifier {
	return &Verifier{pool: p, slots: slots, policy: policy, logger: logger, metrics: m}
}

// Verify waits the settle window, then polls confirmation status for every
// sent outcome until it is terminal or the poll timeout elapses. Unconfirmed
// transactions are recorded, never retried and never an error. The returned
// report always contains exactly one record per outcome.
func (v *Verifier) Verify(ctx context.Context, outcomes []burst.Outcome) (*Report, error) {
	v.logger.InfoContext(ctx, "verification settling",
		"transactions", len(outcomes),
		"settle_window", v.policy.SettleWindow.String(),
	)
	if err := sleepCtx(ctx, v.policy.SettleWindow); err != nil {
		return nil, err
	}

	records := make([]Record, len(outcomes))
	var pending []int // indexes into records still awaiting a terminal status
	for i, out := range outcomes {
		records[i] = Record{
			Signer: out.Signer.String(),
			Sent:   out.Sent,
		}
		if out.Err != nil {
			records[i].Error = out.Err.Error()
		}
		if out.Sent {
			records[i].Signature = out.Signature.String()
			pending = append(pending, i)
		}
	}

	deadline := time.Now().Add(v.policy.PollTimeout)
	for len(pending) > 0 {
		var err error
		pending, err = v.pollOnce(ctx, outcomes, records, pending)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 || time.Now().After(deadline) {
			break
		}
		if err := sleepCtx(ctx, v.policy.PollInterval); err != nil {
			return nil, err
		}
	}

	for range pending {
		v.metrics.RecordConfirmation("unconfirmed")
	}

	report := v.buildReport(records)
	v.metrics.RecordVerdict(report.Verdict(), report.SlotSpread, report.SuccessRate)
	v.logger.InfoContext(ctx, "verification complete",
		"verdict", report.Verdict(),
		"confirmed", report.Confirmed,
		"dispatched", report.Dispatched,
		"success_rate", report.SuccessRate,
		"unique_slots", report.UniqueSlots,
	)
	return report, nil
}

// pollOnce fetches statuses for all pending signatures in batches and marks
// the ones that reached a terminal state. It returns the still-pending set.
func (v *Verifier) pollOnce(ctx context.Context, outcomes []burst.Outcome, records []Record, pending []int) ([]int, error) {
	remaining := pending[:0]

	for start := 0; start < len(pending); start += statusBatchSize {
		end := start + statusBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		sigs := make([]solana.Signature, len(batch))
		for j, idx := range batch {
			sigs[j] = outcomes[idx].Signature
		}

		statuses, err := v.pool.Acquire().SignatureStatuses(ctx, sigs)
		if err != nil {
			// One failed poll round is not fatal; the next round retries.
			v.logger.WarnContext(ctx, "status poll failed", "error", err)
			remaining = append(remaining, batch...)
			continue
		}

		for j, idx := range batch {
			if j >= len(statuses) || statuses[j] == nil {
				remaining = append(remaining, idx)
				continue
			}
			st := statuses[j]
			if st.Err != nil {
				// The transaction landed but failed on chain. Terminal.
				records[idx].Error = "transaction failed on-chain"
				v.metrics.RecordConfirmation("failed")
				continue
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				now := time.Now()
				records[idx].Confirmed = true
				records[idx].Slot = st.Slot
				records[idx].ConfirmedAt = &now
				v.metrics.RecordConfirmation("confirmed")
				continue
			}
			remaining = append(remaining, idx)
		}
	}

	// pending was reused as backing storage; return a stable copy.
	out := make([]int, len(remaining))
	copy(out, remaining)
	return out, nil
}

// buildReport computes the same-slot verdict over the finished records.
func (v *Verifier) buildReport(records []Record) *Report {
	report := &Report{
		Records:    records,
		Dispatched: len(records),
	}

	slotSet := make(map[uint64]struct{})
	for _, rec := range records {
		if rec.Sent {
			report.SentCount++
		}
		if rec.Confirmed {
			report.Confirmed++
			slotSet[rec.Slot] = struct{}{}
		}
	}

	slots := make([]uint64, 0, len(slotSet))
	for s := range slotSet {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	report.UniqueSlots = slots

	if len(slots) > 1 {
		report.SlotSpread = slots[len(slots)-1] - slots[0]
	}

	report.AllSameSlot = len(slots) == 1
	report.NearSameSlot = len(slots) >= 1 &&
		len(slots) <= v.policy.NearMaxUniqueSlots &&
		report.SlotSpread <= v.policy.NearMaxSpread

	if report.Dispatched > 0 {
		report.SuccessRate = float64(report.Confirmed) / float64(report.Dispatched) * 100
	}

	if report.AllSameSlot || report.NearSameSlot {
		report.ChosenSlot = slots[0]
	} else {
		// Display fallback only, not a correctness claim.
		report.ChosenSlot = v.slots.Current()
	}

	return report
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
