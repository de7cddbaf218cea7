// Package phase provides the state machine an orchestrator moves through
// during one boot run. Transitions are strictly forward within a run; a
// fresh run resets the machine to RunningBasics.
package phase

import (
	"errors"
	"slices"
	"time"
)

// Phase represents a discrete stage in the orchestrator lifecycle.
type Phase string

const (
	// PhaseIdle is the state before the first run.
	PhaseIdle Phase = "idle"

	// PhaseRunningBasics creates the progress surface and singleton
	// infrastructure that must exist at most once.
	PhaseRunningBasics Phase = "running_basics"

	// PhaseRunningMain executes the declared unit list.
	PhaseRunningMain Phase = "running_main"

	// PhaseCleaningUp hides the progress surface before readiness fires.
	PhaseCleaningUp Phase = "cleaning_up"

	// PhaseReady means the readiness signal fired for this run.
	PhaseReady Phase = "ready"

	// PhaseCancelled means the run was abandoned through its cancellation scope.
	PhaseCancelled Phase = "cancelled"

	// PhaseDeconstructing destroys spawned instances in reverse order.
	PhaseDeconstructing Phase = "deconstructing"

	// PhaseHandedOff means control passed to a follow-on orchestrator, or
	// deconstruction finished with nobody to hand off to.
	PhaseHandedOff Phase = "handed_off"
)

// AllPhases returns all defined phases in lifecycle order.
func AllPhases() []Phase {
	return []Phase{
		PhaseIdle,
		PhaseRunningBasics,
		PhaseRunningMain,
		PhaseCleaningUp,
		PhaseReady,
		PhaseCancelled,
		PhaseDeconstructing,
		PhaseHandedOff,
	}
}

// IsTerminal returns true if no further transition is possible within the run.
func (p Phase) IsTerminal() bool {
	return p == PhaseCancelled || p == PhaseHandedOff
}

// IsRunning returns true while a run is in flight.
func (p Phase) IsRunning() bool {
	return p == PhaseRunningBasics || p == PhaseRunningMain || p == PhaseCleaningUp
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// PhaseChangeCallback is a function called when a phase transition occurs.
type PhaseChangeCallback func(from, to Phase)

// PhaseTransition captures metadata about a single phase transition.
type PhaseTransition struct {
	From      Phase     `json:"from,omitempty"`
	To        Phase     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// ValidTransitions defines which phase transitions are allowed within one
// run. Starting a run is handled separately by Machine.Begin, which may
// leave any state.
var ValidTransitions = map[Phase][]Phase{
	PhaseIdle: {
		PhaseRunningBasics,
	},

	PhaseRunningBasics: {
		PhaseRunningMain,
		PhaseCancelled,
	},

	PhaseRunningMain: {
		PhaseCleaningUp,
		PhaseCancelled,
	},

	PhaseCleaningUp: {
		PhaseReady,
		PhaseCancelled,
	},

	PhaseReady: {
		PhaseDeconstructing,
	},

	PhaseDeconstructing: {
		PhaseHandedOff,
	},

	PhaseCancelled: {},
	PhaseHandedOff: {},
}

// CanTransition checks whether a transition from one phase to another is valid
// according to the ValidTransitions map.
func CanTransition(from, to Phase) bool {
	validTargets, exists := ValidTransitions[from]
	if !exists {
		return false
	}
	return slices.Contains(validTargets, to)
}

// Common errors for phase transitions.
var (
	// ErrInvalidTransition indicates an attempted transition that is not allowed.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrAlreadyInPhase indicates an attempt to transition to the current phase.
	ErrAlreadyInPhase = errors.New("already in requested phase")

	// ErrTerminalPhase indicates an attempt to transition from a terminal phase.
	ErrTerminalPhase = errors.New("cannot transition from terminal phase")
)

// TransitionError wraps transition failures with additional context.
type TransitionError struct {
	From Phase
	To   Phase
	Err  error
}

func (e *TransitionError) Error() string {
	return "phase transition from " + string(e.From) + " to " + string(e.To) +
		" failed: " + e.Err.Error()
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to Phase, err error) *TransitionError {
	return &TransitionError{From: from, To: to, Err: err}
}
