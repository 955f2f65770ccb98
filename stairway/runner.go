package stairway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/stairway/stairway/journal"
)

// runner drives one flight's do/undo/switch state machine (spec.md
// §4.4, C4 — "the algorithmic heart"). It is stateless across
// invocations: all its dependencies are injected, and all mutable
// per-flight state lives on the *FlightContext it is handed.
type runner struct {
	journal        journal.Journal
	hooks          *HookWrapper
	metrics        *PrometheusMetrics
	exceptionCodec ExceptionCodec

	// quieting reports whether the owning engine has begun a graceful
	// shutdown; runners observe it at step boundaries (spec.md §4.4/§5).
	quieting func() bool
}

func newRunner(j journal.Journal, hooks *HookWrapper, metrics *PrometheusMetrics, codec ExceptionCodec, quieting func() bool) *runner {
	if hooks == nil {
		hooks = NewHookWrapper(nil)
	}
	if codec == nil {
		codec = JSONExceptionCodec{}
	}
	if quieting == nil {
		quieting = func() bool { return false }
	}
	return &runner{journal: j, hooks: hooks, metrics: metrics, exceptionCodec: codec, quieting: quieting}
}

// run is the runner's entry point (spec.md §4.4 "Entry"). It invokes
// the startFlight hook, checks quiescence, and otherwise delegates to
// fly, persisting the terminal or disowned status either way.
func (r *runner) run(ctx context.Context, fc *FlightContext) FlightStatus {
	r.hooks.StartFlight(ctx, fc)

	from := fc.Status

	var status FlightStatus
	if r.quieting() {
		status = FlightReady
	} else {
		status = r.fly(ctx, fc)
	}
	fc.Status = status

	r.exit(ctx, fc)
	r.hooks.StateTransition(ctx, fc, from, status)
	r.hooks.EndFlight(ctx, fc)
	r.metrics.incCompleted(status)

	return status
}

// fly implements spec.md §4.4's numbered fly() algorithm.
func (r *runner) fly(ctx context.Context, fc *FlightContext) FlightStatus {
	fc.advance() // START -> DO, index 0

	result := r.runSteps(ctx, fc)
	switch result.Status {
	case StatusSuccess:
		return FlightSuccess
	case StatusStop:
		return FlightReady
	case StatusWait:
		return FlightWaiting
	case StatusRestartFlight:
		return FlightReadyToRestart
	}

	// Any non-success do result: record it, flip direction to SWITCH,
	// journal the transition, then run the undo leg.
	r.journalStep(ctx, fc, result)
	fc.LastResult = result
	fc.switchToUndo()
	r.journalSwitchMarker(ctx, fc)

	undoResult := r.runSteps(ctx, fc)
	if undoResult.Status == StatusSuccess {
		return FlightError
	}

	// The undo leg itself failed: dismal failure.
	r.journalStep(ctx, fc, undoResult)
	return FlightFatal
}

// runSteps implements spec.md §4.4's runSteps(): loop over the
// remaining steps in the current direction, journaling each
// successful/terminal attempt, until the context has nothing left to
// do or a non-success result surfaces.
func (r *runner) runSteps(ctx context.Context, fc *FlightContext) StepResult {
	for fc.haveStepToDo() {
		if ctx.Err() != nil {
			return Stop()
		}

		result := r.stepWithRetry(ctx, fc)

		if !result.Status.succeeded() {
			// Non-success: the caller journals this failure, not us.
			return result
		}

		if fc.Direction == DirectionSwitch {
			fc.Direction = DirectionUndo
		}

		if fc.debug.restartEachStep() {
			r.journalStep(ctx, fc, result)
			return RestartFlight()
		}

		switch result.Status {
		case StatusSuccess:
			fc.Rerun = false
			r.journalStep(ctx, fc, result)
			fc.advance()
		case StatusRerun:
			fc.Rerun = true
			r.journalStep(ctx, fc, result)
		case StatusWait:
			fc.Rerun = false
			r.journalStep(ctx, fc, result)
			return result
		case StatusStop, StatusRestartFlight:
			r.journalStep(ctx, fc, result)
			return result
		}
	}
	return Success()
}

// stepWithRetry implements spec.md §4.4's per-attempt retry loop.
func (r *runner) stepWithRetry(ctx context.Context, fc *FlightContext) StepResult {
	rs := fc.currentStep()
	retryRule := rs.retryRule
	if retryRule == nil {
		retryRule = NoRetry{}
	}
	retryRule.Initialize()

	for {
		r.hooks.StartStep(ctx, fc)

		stepCtx := withDiagnostics(ctx, augmentForStep(captureDiagnostics(ctx), rs.class, fc.Direction, fc.StepIndex))

		started := time.Now()
		result := r.invokeStep(stepCtx, fc, rs.step)
		result = r.applyDebugInjection(fc, result)

		r.hooks.EndStep(ctx, fc, result)
		r.metrics.recordStepLatency(rs.class, fc.Direction, result.Status, time.Since(started))
		fc.LastResult = result

		switch result.Status {
		case StatusSuccess, StatusRerun:
			if r.quieting() {
				return Stop()
			}
			return result
		case StatusFailureFatal, StatusStop, StatusWait, StatusRestartFlight:
			return result
		case StatusFailureRetry:
			if r.quieting() {
				return result
			}
			r.metrics.incRetry(rs.class, fc.Direction)
			if retryRule.SleepAndDecide(result) {
				continue
			}
			return result
		default:
			return result
		}
	}
}

// invokeStep calls the step's Do or Undo method depending on
// direction, classifying a returned error via ErrRetryable (spec.md
// §4.4 step 4, §9 "exception-driven control flow").
func (r *runner) invokeStep(ctx context.Context, fc *FlightContext, step Step) StepResult {
	var (
		result StepResult
		err    error
	)
	if fc.Direction == DirectionUndo || fc.Direction == DirectionSwitch {
		result, err = step.Undo(ctx, fc)
	} else {
		result, err = step.Do(ctx, fc)
	}
	if err == nil {
		return result
	}
	if errors.Is(err, ErrRetryable) {
		return RetryableFailure(err)
	}
	return FatalFailure(err)
}

// applyDebugInjection overrides a step's result with a configured
// fault-injection outcome, if any still-armed knob applies (spec.md
// §4.4 "Debug fault injection", resolved precedence in debug.go).
func (r *runner) applyDebugInjection(fc *FlightContext, result StepResult) StepResult {
	idx := fc.StepIndex
	class := fc.currentStep().class

	if st, ok := fc.debug.forcedStatus(fc.Direction, idx, class); ok {
		if st.succeeded() {
			return StepResult{Status: st}
		}
		return StepResult{Status: st, Err: fmt.Errorf("stairway: forced failure for step %d (%s)", idx, class)}
	}

	isFinalDoStep := result.Status == StatusSuccess &&
		fc.Direction != DirectionUndo && fc.Direction != DirectionSwitch &&
		idx == fc.stepCount()-1
	if isFinalDoStep && fc.debug.maybeForceLastStepFailure() {
		return FatalFailure(fmt.Errorf("stairway: forced last-step failure"))
	}

	return result
}

// journalStep appends one flight_log row for result at the context's
// current position, snapshotting the working map (spec.md §3/§4.1).
func (r *runner) journalStep(ctx context.Context, fc *FlightContext, result StepResult) {
	entry := journal.LogEntry{
		FlightID:        fc.FlightID,
		StepIndex:       fc.StepIndex,
		Direction:       string(fc.Direction),
		Rerun:           fc.Rerun,
		Succeeded:       result.Status.succeeded(),
		Status:          string(result.Status),
		WorkingSnapshot: fc.Working.Snapshot(),
	}
	if result.Err != nil {
		if s, err := r.exceptionCodec.EncodeError(result.Err); err == nil {
			entry.SerializedException = s
		}
	}
	// The journal does not retry storage errors (the SQL journals only
	// trip a circuit breaker after repeated failures); an error here has
	// no safe recovery short of crashing the runner, so it is swallowed
	// into the log entry's absence rather than losing the flight's
	// forward progress. A future revision could surface this via a
	// hook callback.
	_, _ = r.journal.Step(ctx, entry)
}

// journalSwitchMarker appends the bookkeeping row that records the
// direction flip from DO to SWITCH (spec.md §8 scenario S2: a SWITCH
// entry distinct from both the failing DO entry and the first UNDO
// entry).
func (r *runner) journalSwitchMarker(ctx context.Context, fc *FlightContext) {
	entry := journal.LogEntry{
		FlightID:        fc.FlightID,
		StepIndex:       fc.StepIndex,
		Direction:       string(DirectionSwitch),
		Rerun:           false,
		Succeeded:       false,
		Status:          string(fc.LastResult.Status),
		WorkingSnapshot: fc.Working.Snapshot(),
	}
	if fc.LastResult.Err != nil {
		if s, err := r.exceptionCodec.EncodeError(fc.LastResult.Err); err == nil {
			entry.SerializedException = s
		}
	}
	_, _ = r.journal.Step(ctx, entry)
}

// exit persists fc's terminal or disowned status via journal.Exit
// (spec.md §4.1 "exit(ctx)").
func (r *runner) exit(ctx context.Context, fc *FlightContext) {
	var serialized string
	if fc.Status == FlightError || fc.Status == FlightFatal {
		errToEncode := fc.LastResult.Err
		if errToEncode == nil {
			errToEncode = &FlightError{Message: "flight ended " + string(fc.Status)}
		}
		if s, err := r.exceptionCodec.EncodeError(errToEncode); err == nil {
			serialized = s
		}
	}
	_ = r.journal.Exit(ctx, fc.FlightID, string(fc.Status), serialized)
}
