// Package errors provides centralized error definitions and error handling utilities
// for stagehand. It defines the boot taxonomy used by the orchestrator: cancellation,
// configuration warnings, and contained unit failures.
//
// # Error Types
//
// Domain-specific errors:
//   - UnitError: a step's Setup (or instantiation) failed
//   - ConfigWarning: a declaration, contract, or collaborator is missing
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewUnitError("warmup", 2, cause)
//	warn := errors.NewConfigWarning("slot 1", errors.ErrNullDeclaration)
//
// Checking errors:
//
//	if errors.IsCancellation(err) { ... }
//
//	var unitErr *errors.UnitError
//	if errors.As(err, &unitErr) { ... }
//
// # Classification
//
// Cancellation is never an error condition at the orchestration layer: it is
// the cooperative shutdown path. There is intentionally no fatal class.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational conditions, such as cancellation.
	SeverityInfo
	// SeverityWarning is for configuration problems that do not stop a run.
	SeverityWarning
	// SeverityError is for contained unit failures.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Run-related sentinel errors
var (
	// ErrCancelled indicates that a run was abandoned through its cancellation scope.
	ErrCancelled = New("run cancelled")
	// ErrNotReady indicates that deconstruction was requested before a run completed.
	ErrNotReady = New("no completed run to deconstruct")
	// ErrStaleGeneration indicates work belonging to a superseded run generation.
	ErrStaleGeneration = New("stale run generation")
	// ErrRunInProgress indicates an operation that cannot overlap a live run.
	ErrRunInProgress = New("run in progress")
	// ErrDuplicateInstance indicates an instance whose ID is already recorded
	// for a different instance.
	ErrDuplicateInstance = New("duplicate instance id")
)

// Configuration-related sentinel errors
var (
	// ErrNullDeclaration indicates an empty slot in the declaration list.
	ErrNullDeclaration = New("null declaration")
	// ErrNoContract indicates an instance that carries no unit implementation.
	ErrNoContract = New("instance has no unit implementation")
	// ErrNoProgress indicates that no progress controller is configured.
	ErrNoProgress = New("no progress controller configured")
	// ErrUnknownKind indicates a manifest step whose kind is not registered.
	ErrUnknownKind = New("unknown step kind")
	// ErrInvalidManifest indicates a manifest that failed validation.
	ErrInvalidManifest = New("invalid manifest")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// UnitError represents a contained failure of one step.
//
// Example:
//
//	err := errors.NewUnitError("db", 3, io.ErrUnexpectedEOF)
//	fmt.Println(err) // "unit error [unit=db, slot=3]: setup failed: unexpected EOF"
type UnitError struct {
	baseError
	Unit  string
	Index int
}

// NewUnitError creates a new UnitError for the unit at slot index.
func NewUnitError(unitName string, index int, cause error) *UnitError {
	return &UnitError{
		baseError: baseError{
			message:  "setup failed",
			cause:    cause,
			severity: SeverityError,
		},
		Unit:  unitName,
		Index: index,
	}
}

// WithMessage replaces the default message.
func (e *UnitError) WithMessage(msg string) *UnitError {
	e.message = msg
	return e
}

// Error returns the formatted error message.
func (e *UnitError) Error() string {
	var parts []string
	if e.Unit != "" {
		parts = append(parts, fmt.Sprintf("unit=%s", e.Unit))
	}
	parts = append(parts, fmt.Sprintf("slot=%d", e.Index))

	prefix := fmt.Sprintf("unit error [%s]", strings.Join(parts, ", "))
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is reports whether target is a *UnitError.
func (e *UnitError) Is(target error) bool {
	if _, ok := target.(*UnitError); ok {
		return true
	}
	return false
}

// ConfigWarning represents a configuration problem that the orchestrator logs
// and steps over.
type ConfigWarning struct {
	baseError
	Subject string
}

// NewConfigWarning creates a ConfigWarning about subject.
func NewConfigWarning(subject string, cause error) *ConfigWarning {
	return &ConfigWarning{
		baseError: baseError{
			message:  "configuration warning",
			cause:    cause,
			severity: SeverityWarning,
		},
		Subject: subject,
	}
}

// Error returns the formatted warning message.
func (e *ConfigWarning) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s [%s]: %v", e.message, e.Subject, e.cause)
	}
	return fmt.Sprintf("%s [%s]", e.message, e.Subject)
}

// Is reports whether target is a *ConfigWarning.
func (e *ConfigWarning) Is(target error) bool {
	_, ok := target.(*ConfigWarning)
	return ok
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsCancellation reports whether err represents cooperative cancellation.
// context.DeadlineExceeded is not cancellation.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// SeverityOf returns the severity for any error. Unknown errors are SeverityError.
func SeverityOf(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	if IsCancellation(err) {
		return SeverityInfo
	}
	var s interface{ Severity() Severity }
	if errors.As(err, &s) {
		return s.Severity()
	}
	return SeverityError
}
