package stairway

import "context"

// StepStatus is the status tag a step attempt returns (spec.md §3).
type StepStatus string

const (
	StatusSuccess       StepStatus = "SUCCESS"
	StatusRerun         StepStatus = "RERUN"
	StatusWait          StepStatus = "WAIT"
	StatusStop          StepStatus = "STOP"
	StatusRestartFlight StepStatus = "RESTART_FLIGHT"
	StatusFailureRetry  StepStatus = "FAILURE_RETRY"
	StatusFailureFatal  StepStatus = "FAILURE_FATAL"
)

// succeeded reports whether the status represents forward progress
// rather than a failure outcome, matching the flight_log.succeeded
// flag (spec.md §3).
func (s StepStatus) succeeded() bool {
	switch s {
	case StatusFailureRetry, StatusFailureFatal:
		return false
	default:
		return true
	}
}

// Direction is the flight's current phase (spec.md §3/§4.3).
type Direction string

const (
	DirectionStart  Direction = "START"
	DirectionDo     Direction = "DO"
	DirectionUndo   Direction = "UNDO"
	DirectionSwitch Direction = "SWITCH"
)

// FlightStatus is the flight row's lifecycle status (spec.md §3).
type FlightStatus string

const (
	FlightRunning         FlightStatus = "RUNNING"
	FlightSuccess         FlightStatus = "SUCCESS"
	FlightError           FlightStatus = "ERROR"
	FlightFatal           FlightStatus = "FATAL"
	FlightWaiting         FlightStatus = "WAITING"
	FlightReady           FlightStatus = "READY"
	FlightQueued          FlightStatus = "QUEUED"
	FlightReadyToRestart  FlightStatus = "READY_TO_RESTART"
)

// IsTerminal reports whether status is one of the immutable terminal
// statuses (spec.md §3 invariant 2).
func (s FlightStatus) IsTerminal() bool {
	return s == FlightSuccess || s == FlightError || s == FlightFatal
}

// StepResult is the value a step attempt returns: a status tag plus an
// optional error (spec.md §3). It is the Go analogue of the teacher's
// NodeResult, restricted to the do/undo vocabulary instead of DAG
// routing.
type StepResult struct {
	Status StepStatus
	Err    error
}

// Success returns a StepResult{Status: StatusSuccess}.
func Success() StepResult { return StepResult{Status: StatusSuccess} }

// Rerun returns a StepResult{Status: StatusRerun}.
func Rerun() StepResult { return StepResult{Status: StatusRerun} }

// Wait returns a StepResult{Status: StatusWait}.
func Wait() StepResult { return StepResult{Status: StatusWait} }

// Stop returns a StepResult{Status: StatusStop}.
func Stop() StepResult { return StepResult{Status: StatusStop} }

// RestartFlight returns a StepResult{Status: StatusRestartFlight}.
func RestartFlight() StepResult { return StepResult{Status: StatusRestartFlight} }

// RetryableFailure returns a StepResult{Status: StatusFailureRetry}
// carrying err.
func RetryableFailure(err error) StepResult {
	return StepResult{Status: StatusFailureRetry, Err: err}
}

// FatalFailure returns a StepResult{Status: StatusFailureFatal}
// carrying err.
func FatalFailure(err error) StepResult {
	return StepResult{Status: StatusFailureFatal, Err: err}
}

// Step is the unit of work in a flight. Implementers provide a forward
// operation (Do) and a compensating operation (Undo): spec.md §6's
// Step contract requires that Do followed by Undo leave observable
// external state equivalent to never having run. Undo is only called
// if Do was at least attempted; retries and reruns may invoke either
// method more than once, so both must be safe to call repeatedly for
// the same (flight_id, step_index) pair modulo the step author's own
// idempotency key usage.
type Step interface {
	// Do performs the forward operation, reading and writing ctx's
	// working map as needed.
	Do(ctx context.Context, fc *FlightContext) (StepResult, error)

	// Undo performs the compensating operation.
	Undo(ctx context.Context, fc *FlightContext) (StepResult, error)
}

// StepFunc adapts a pair of plain functions to the Step interface, the
// same function-adapter convenience the teacher offers via NodeFunc.
type StepFunc struct {
	DoFunc   func(ctx context.Context, fc *FlightContext) (StepResult, error)
	UndoFunc func(ctx context.Context, fc *FlightContext) (StepResult, error)
}

// Do implements Step.
func (f StepFunc) Do(ctx context.Context, fc *FlightContext) (StepResult, error) {
	if f.DoFunc == nil {
		return Success(), nil
	}
	return f.DoFunc(ctx, fc)
}

// Undo implements Step.
func (f StepFunc) Undo(ctx context.Context, fc *FlightContext) (StepResult, error) {
	if f.UndoFunc == nil {
		return Success(), nil
	}
	return f.UndoFunc(ctx, fc)
}

// retryPolicyProvider is an optional interface through which a step
// can expose its own RetryRule. Nothing in this package consults it:
// a step's retry rule is the one passed to Flight.AddStep.
type retryPolicyProvider interface {
	RetryRule() RetryRule
}

// stepClassName derives the string used for debug-fault-injection
// class lookups and for journaling step identity. It uses the dynamic
// type name, mirroring how the source keys debug info by step class.
func stepClassName(s Step) string {
	return typeName(s)
}
