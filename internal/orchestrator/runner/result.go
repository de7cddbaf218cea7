package runner

import (
	"time"

	"github.com/Iron-Ham/stagehand/internal/unit"
)

// SlotStatus is the final state of one progress slot.
type SlotStatus string

const (
	SlotCompleted SlotStatus = "completed"
	SlotFailed    SlotStatus = "failed"
	SlotSkipped   SlotStatus = "skipped"
	SlotCancelled SlotStatus = "cancelled"
)

// statusFor maps a unit outcome to the slot status it produces.
func statusFor(o unit.Outcome) SlotStatus {
	switch o {
	case unit.Completed:
		return SlotCompleted
	case unit.Cancelled:
		return SlotCancelled
	default:
		return SlotFailed
	}
}

// Slot records what happened to one progress slot.
type Slot struct {
	Index    int           `json:"index"`
	Label    string        `json:"label"`
	Instance string        `json:"instance,omitempty"`
	Status   SlotStatus    `json:"status"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Result summarizes one phase.
type Result struct {
	Phase     string        `json:"phase"`
	Total     int           `json:"total"`
	Slots     []Slot        `json:"slots"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// Count returns the number of slots with the given status.
func (r *Result) Count(status SlotStatus) int {
	n := 0
	for _, s := range r.Slots {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Failures returns the failed slots in execution order.
func (r *Result) Failures() []Slot {
	var out []Slot
	for _, s := range r.Slots {
		if s.Status == SlotFailed {
			out = append(out, s)
		}
	}
	return out
}
