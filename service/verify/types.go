package verify

import (
	"time"
)

// Record is the per-transaction verification result. Exactly one Record
// exists per dispatched outcome, confirmed or not.
type Record struct {
	Signer      string     `json:"signer"`
	Signature   string     `json:"signature,omitempty"`
	Sent        bool       `json:"sent"`
	Confirmed   bool       `json:"confirmed"`
	Slot        uint64     `json:"slot,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Report aggregates all records plus the same-slot verdict for one burst.
type Report struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`

	Records []Record `json:"records"`

	Dispatched int `json:"dispatched"`
	SentCount  int `json:"sent_count"`
	Confirmed  int `json:"confirmed"`

	// AllSameSlot is the strict criterion: every confirmed transaction landed
	// in the identical slot. NearSameSlot is the lenient, reporting-only
	// criterion governed by the configured thresholds.
	AllSameSlot  bool `json:"all_same_slot"`
	NearSameSlot bool `json:"near_same_slot"`

	ChosenSlot  uint64   `json:"chosen_slot"`
	UniqueSlots []uint64 `json:"unique_slots"`
	SlotSpread  uint64   `json:"slot_spread"`

	SuccessRate float64       `json:"success_rate"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	TargetSlot  uint64        `json:"target_slot"`
}

// Verdict returns a short label for the report's outcome, used for logs
// and metrics.
func (r *Report) Verdict() string {
	switch {
	case r.AllSameSlot:
		return "same_slot"
	case r.NearSameSlot:
		return "near_same_slot"
	default:
		return "scattered"
	}
}
