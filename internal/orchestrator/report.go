package orchestrator

import (
	"time"

	"github.com/Iron-Ham/stagehand/internal/orchestrator/runner"
)

// RunReport summarizes the last run of an orchestrator. Services lists the
// prerequisites created by that run; BasicsErrors holds the ones that failed.
type RunReport struct {
	RunID        string        `json:"run_id"`
	Stage        string        `json:"stage"`
	Generation   uint64        `json:"generation"`
	Ready        bool          `json:"ready"`
	Cancelled    bool          `json:"cancelled"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Aborted      int           `json:"aborted"`
	Slots        []runner.Slot `json:"slots"`
	Services     []string      `json:"services,omitempty"`
	BasicsErrors []error       `json:"-"`
	Duration     time.Duration `json:"duration"`
}

func (r *RunReport) absorb(res *runner.Result) {
	if res == nil {
		return
	}
	r.Slots = append(r.Slots, res.Slots...)
	r.Completed += res.Count(runner.SlotCompleted)
	r.Failed += res.Count(runner.SlotFailed)
	r.Skipped += res.Count(runner.SlotSkipped)
	r.Aborted += res.Count(runner.SlotCancelled)
}
