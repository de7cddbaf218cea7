// Package event provides a pub-sub event bus for observing boot runs.
//
// The orchestrator publishes an event at every visible step of a run: the run
// starting, each state change, each slot's outcome, readiness, and every
// instance destroyed during deconstruction. The TUI, the metrics recorder,
// and tests subscribe without the orchestrator knowing about them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called
// synchronously on the publishing goroutine and are protected against
// panics.
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - run.started, run.ready, run.cancelled
//   - phase.changed
//   - unit.started, unit.finished, unit.skipped
//   - progress.updated
//   - instance.destroyed, stage.handoff
package event
