// Package stairway implements an embeddable durable workflow engine.
//
// Callers register a long-running operation as a flight: an ordered
// sequence of steps, each with a forward operation (do) and a
// compensating operation (undo). The engine journals every step
// attempt to a relational store so that a flight can be resumed on any
// engine instance sharing that store, with no work lost beyond what
// the step contracts allow.
package stairway

import "errors"

// Error taxonomy (spec.md §7).
//
// Input errors and storage errors are returned directly to the caller.
// The journals do not retry transient storage errors; the SQL journals
// only trip a circuit breaker after repeated failures. Step-level
// errors are classified by the runner via ErrRetryable /
// FlightError.Code.
var (
	// ErrDuplicateFlightID is returned by Submit when a flight with the
	// given id already exists in the shared store.
	ErrDuplicateFlightID = errors.New("stairway: duplicate flight id")

	// ErrInvalidState denotes an operation attempted against a flight or
	// engine in a state that does not permit it. No function in this
	// module returns it: the journals reject a RUNNING exit target with
	// their own error, and Submit returns ErrQuietingDown.
	ErrInvalidState = errors.New("stairway: invalid state for operation")

	// ErrQuietingDown is returned by Submit and Initialize once the
	// engine has begun a graceful or forced shutdown.
	ErrQuietingDown = errors.New("stairway: engine is quieting down")

	// ErrFlightNotFound denotes a flight id the journal has no row for.
	// No function in this module returns it; the journals report a
	// missing row as journal.ErrNotFound.
	ErrFlightNotFound = errors.New("stairway: flight not found")

	// ErrRetryable is the sentinel a step's do/undo wraps (via
	// fmt.Errorf("%w: ...", ErrRetryable)) to request FAILURE_RETRY
	// classification instead of FAILURE_FATAL. It is the Go analogue of
	// the source's RetryException (spec.md §9).
	ErrRetryable = errors.New("stairway: retryable step failure")

	// ErrInvalidRetryRule denotes RetryRule parameters that are not
	// self-consistent. No RetryRule constructor in this module returns
	// it.
	ErrInvalidRetryRule = errors.New("stairway: invalid retry rule configuration")

	// ErrDismalFailure denotes a flight whose undo leg itself failed.
	// No function in this module returns or records it: such a flight
	// ends FATAL and its row records the failing step's own error.
	ErrDismalFailure = errors.New("stairway: dismal failure, undo did not succeed")

	// ErrNoQueue denotes an operation that requires a configured
	// QueueTransport when none was supplied. No function in this module
	// returns it.
	ErrNoQueue = errors.New("stairway: no work queue configured")
)

// FlightError carries structured, machine-readable information about a
// step-level failure, mirroring the teacher's NodeError shape: a
// message, a code, the offending step's class name, and an optional
// wrapped cause.
type FlightError struct {
	Message   string
	Code      string
	StepClass string
	Cause     error
}

// Error implements the error interface.
func (e *FlightError) Error() string {
	if e.StepClass != "" {
		return "step " + e.StepClass + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any, so errors.Is/As see through
// a FlightError to the underlying failure.
func (e *FlightError) Unwrap() error {
	return e.Cause
}
