// Package event defines event types for observing boot runs.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "run.started", "unit.finished")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeRunStarted        = "run.started"
	TypeRunReady          = "run.ready"
	TypeRunCancelled      = "run.cancelled"
	TypePhaseChanged      = "phase.changed"
	TypeUnitStarted       = "unit.started"
	TypeUnitFinished      = "unit.finished"
	TypeUnitSkipped       = "unit.skipped"
	TypeProgressUpdated   = "progress.updated"
	TypeInstanceDestroyed = "instance.destroyed"
	TypeStageHandoff      = "stage.handoff"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Run Events
// -----------------------------------------------------------------------------

// RunStartedEvent is emitted when a run acquires its cancellation generation.
type RunStartedEvent struct {
	baseEvent
	RunID      string
	Stage      string
	Generation uint64
	Slots      int // Declarations in the main phase
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID, stage string, generation uint64, slots int) RunStartedEvent {
	return RunStartedEvent{
		baseEvent:  newBaseEvent(TypeRunStarted),
		RunID:      runID,
		Stage:      stage,
		Generation: generation,
		Slots:      slots,
	}
}

// RunReadyEvent is emitted once per completed run, after cleanup.
type RunReadyEvent struct {
	baseEvent
	RunID     string
	Stage     string
	Completed int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// NewRunReadyEvent creates a RunReadyEvent.
func NewRunReadyEvent(runID, stage string, completed, failed, skipped int, d time.Duration) RunReadyEvent {
	return RunReadyEvent{
		baseEvent: newBaseEvent(TypeRunReady),
		RunID:     runID,
		Stage:     stage,
		Completed: completed,
		Failed:    failed,
		Skipped:   skipped,
		Duration:  d,
	}
}

// RunCancelledEvent is emitted when a run is abandoned.
type RunCancelledEvent struct {
	baseEvent
	RunID      string
	Stage      string
	Generation uint64
	Phase      string // State the run was in when it stopped
}

// NewRunCancelledEvent creates a RunCancelledEvent.
func NewRunCancelledEvent(runID, stage string, generation uint64, phase string) RunCancelledEvent {
	return RunCancelledEvent{
		baseEvent:  newBaseEvent(TypeRunCancelled),
		RunID:      runID,
		Stage:      stage,
		Generation: generation,
		Phase:      phase,
	}
}

// PhaseChangeEvent is emitted on every orchestrator state transition.
type PhaseChangeEvent struct {
	baseEvent
	RunID string
	From  string
	To    string
}

// NewPhaseChangeEvent creates a PhaseChangeEvent.
func NewPhaseChangeEvent(runID, from, to string) PhaseChangeEvent {
	return PhaseChangeEvent{
		baseEvent: newBaseEvent(TypePhaseChanged),
		RunID:     runID,
		From:      from,
		To:        to,
	}
}

// -----------------------------------------------------------------------------
// Unit Events
// -----------------------------------------------------------------------------

// UnitStartedEvent is emitted right before a unit's Setup is invoked.
type UnitStartedEvent struct {
	baseEvent
	RunID string
	Slot  int
	Total int
	Unit  string
}

// NewUnitStartedEvent creates a UnitStartedEvent.
func NewUnitStartedEvent(runID string, slot, total int, unitName string) UnitStartedEvent {
	return UnitStartedEvent{
		baseEvent: newBaseEvent(TypeUnitStarted),
		RunID:     runID,
		Slot:      slot,
		Total:     total,
		Unit:      unitName,
	}
}

// UnitFinishedEvent is emitted after Setup returns.
type UnitFinishedEvent struct {
	baseEvent
	RunID    string
	Slot     int
	Unit     string
	Outcome  string // "completed", "failed", or "cancelled"
	Error    string
	Duration time.Duration
}

// NewUnitFinishedEvent creates a UnitFinishedEvent.
func NewUnitFinishedEvent(runID string, slot int, unitName, outcome, errMsg string, d time.Duration) UnitFinishedEvent {
	return UnitFinishedEvent{
		baseEvent: newBaseEvent(TypeUnitFinished),
		RunID:     runID,
		Slot:      slot,
		Unit:      unitName,
		Outcome:   outcome,
		Error:     errMsg,
		Duration:  d,
	}
}

// UnitSkippedEvent is emitted for slots that count as complete without
// running anything: null declarations and instances with no unit.
type UnitSkippedEvent struct {
	baseEvent
	RunID  string
	Slot   int
	Unit   string
	Reason string
}

// NewUnitSkippedEvent creates a UnitSkippedEvent.
func NewUnitSkippedEvent(runID string, slot int, unitName, reason string) UnitSkippedEvent {
	return UnitSkippedEvent{
		baseEvent: newBaseEvent(TypeUnitSkipped),
		RunID:     runID,
		Slot:      slot,
		Unit:      unitName,
		Reason:    reason,
	}
}

// ProgressEvent mirrors every value published to the progress controller.
type ProgressEvent struct {
	baseEvent
	RunID string
	Value float64
}

// NewProgressEvent creates a ProgressEvent.
func NewProgressEvent(runID string, value float64) ProgressEvent {
	return ProgressEvent{
		baseEvent: newBaseEvent(TypeProgressUpdated),
		RunID:     runID,
		Value:     value,
	}
}

// -----------------------------------------------------------------------------
// Teardown Events
// -----------------------------------------------------------------------------

// InstanceDestroyedEvent is emitted for each instance torn down.
type InstanceDestroyedEvent struct {
	baseEvent
	InstanceID string
	Template   string
	Error      string
}

// NewInstanceDestroyedEvent creates an InstanceDestroyedEvent.
func NewInstanceDestroyedEvent(instanceID, template, errMsg string) InstanceDestroyedEvent {
	return InstanceDestroyedEvent{
		baseEvent:  newBaseEvent(TypeInstanceDestroyed),
		InstanceID: instanceID,
		Template:   template,
		Error:      errMsg,
	}
}

// HandoffEvent is emitted when deconstruction passes control to the next stage.
type HandoffEvent struct {
	baseEvent
	From string
	To   string
}

// NewHandoffEvent creates a HandoffEvent.
func NewHandoffEvent(from, to string) HandoffEvent {
	return HandoffEvent{
		baseEvent: newBaseEvent(TypeStageHandoff),
		From:      from,
		To:        to,
	}
}
