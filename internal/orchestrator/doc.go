// Package orchestrator boots a stage by running its declared units through
// three phases: basics, main, and cleanup.
//
// # Run
//
// [Orchestrator.Run] replaces the cancellation scope, which cancels any run
// still in flight, and starts again from the basics phase. Basics creates
// singleton prerequisites that do not exist yet and shows the progress
// surface. Main hands the declaration list to a [runner.Runner]. Cleanup
// hides the progress surface and fires the readiness signal exactly once.
//
// Unit failures never reach the caller. Run returns an error only when the
// run was cancelled, and that error matches context.Canceled or
// errors.ErrCancelled.
//
// # Deconstruction
//
// [Orchestrator.Deconstruct] destroys every recorded instance in exact
// reverse creation order, yielding one tick between destructions, then
// clears the ledger and hands control to the configured [Successor].
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Only the run holding
// the live cancellation token may move the state machine.
package orchestrator
