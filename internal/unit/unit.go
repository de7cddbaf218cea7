// Package unit defines the contract every boot step implements, the
// templates steps are instantiated from, and the outcome taxonomy the
// orchestrator uses to decide whether a run continues.
package unit

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/logging"
	"github.com/Iron-Ham/stagehand/internal/readiness"
	"github.com/sourcegraph/conc/panics"
)

// Unit is an idempotent, cancellation-aware setup operation.
//
// ctx is the run's cancellation signal. If it fires while Setup is suspended,
// Setup must unwind and return an error wrapping context.Canceled. Any other
// non-nil error is a contained failure. Calling Setup twice must not corrupt
// state, although the orchestrator calls it at most once per instance per run.
type Unit interface {
	Setup(ctx context.Context, run RunContext) error
}

// Destroyer is implemented by units that hold resources beyond their
// instance. Destroy is called when the owning instance is torn down.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// Named is implemented by units that want a label other than their
// instance name in logs and events.
type Named interface {
	Name() string
}

// Func adapts a function to Unit.
type Func func(ctx context.Context, run RunContext) error

// Setup calls f.
func (f Func) Setup(ctx context.Context, run RunContext) error { return f(ctx, run) }

// RunContext identifies the orchestrating run to a unit.
type RunContext interface {
	// RunID is unique per run.
	RunID() string
	// Generation is the cancellation generation of the run.
	Generation() uint64
	// OnReady subscribes fn to this run's readiness signal.
	OnReady(fn func()) readiness.Subscription
	// Service returns a singleton created during the basics phase.
	Service(name string) (any, bool)
	// Logger is scoped to the run and unit.
	Logger() *logging.Logger
}

// Outcome classifies the result of one Setup call.
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Classify maps a Setup error to an Outcome. An error returned while ctx is
// already cancelled counts as cancellation even if the unit did not wrap
// context.Canceled.
func Classify(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return Completed
	case errors.IsCancellation(err):
		return Cancelled
	case ctx != nil && errors.IsCancellation(ctx.Err()):
		return Cancelled
	default:
		return Failed
	}
}

// Run invokes u.Setup, converting a panic into an error so a misbehaving
// unit is contained like any other failure.
func Run(ctx context.Context, u Unit, run RunContext) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = u.Setup(ctx, run) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("unit panicked: %w", r.AsError())
	}
	return err
}

// Label returns a display name for u, falling back to fallback.
func Label(u Unit, fallback string) string {
	if n, ok := u.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fallback
}
