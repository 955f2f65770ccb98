package stairway

import "time"

// registeredStep pairs a Step with the retry rule it was registered
// with (spec.md §4.3: "the ordered list of steps with their retry
// rules").
type registeredStep struct {
	step      Step
	retryRule RetryRule
	class     string
}

// FlightContext holds the in-memory state of a running flight: its
// identity, parameter maps, position in the step list, and the
// bookkeeping the runner needs to drive the state machine (spec.md
// §4.3). It is owned by exactly one runner goroutine for the duration
// of its execution; the teacher's equivalent note ("no synchronisation
// needed, the context belongs to a single thread") applies verbatim.
type FlightContext struct {
	FlightID  string
	ClassName string

	Input     *ParamMap
	Working   *ParamMap
	Persisted *ParamMap

	StepIndex int
	Direction Direction
	Rerun     bool

	LastResult StepResult
	Status     FlightStatus

	SubmitTime time.Time

	steps []registeredStep
	debug *debugInjector

	// persistFlush is invoked whenever Persisted is mutated via
	// SetProgress, flushing it to the journal independently of step
	// logging (spec.md §4.3).
	persistFlush func(fc *FlightContext) error
}

// stepCount returns the number of registered steps.
func (fc *FlightContext) stepCount() int {
	return len(fc.steps)
}

// currentStep returns the step registered at fc.StepIndex.
func (fc *FlightContext) currentStep() registeredStep {
	return fc.steps[fc.StepIndex]
}

// haveStepToDo reports whether the context has a step left to execute
// in its current direction (spec.md §4.3 termination predicates).
func (fc *FlightContext) haveStepToDo() bool {
	switch fc.Direction {
	case DirectionUndo:
		return fc.StepIndex >= 0
	default: // DO, SWITCH, START
		return fc.StepIndex < fc.stepCount()
	}
}

// advance moves the context to its next position, per the direction
// transition table in spec.md §4.3:
//
//	START  -> DO, index = 0
//	DO     -> index++
//	UNDO   -> index--
//	SWITCH -> index unchanged (undo the current step)
//
// If fc.Rerun is set, advance is a no-op: index and direction are left
// unchanged so the same step is attempted again.
func (fc *FlightContext) advance() {
	if fc.Rerun {
		return
	}
	switch fc.Direction {
	case DirectionStart:
		fc.Direction = DirectionDo
		fc.StepIndex = 0
	case DirectionDo:
		fc.StepIndex++
	case DirectionUndo:
		fc.StepIndex--
	case DirectionSwitch:
		// index unchanged: the current step is re-run under Undo next.
	}
}

// switchToUndo flips the context's direction to SWITCH, the
// transition the runner makes on a non-success do result before
// journaling it (spec.md §4.4 step 2).
func (fc *FlightContext) switchToUndo() {
	fc.Direction = DirectionSwitch
}

// SetProgress stores v under key in the persisted map and flushes the
// map to the journal immediately, independently of step logging
// (spec.md §4.3's "progress meter" semantics).
func SetProgress[T any](fc *FlightContext, key string, v T) error {
	if err := PutParam(fc.Persisted, key, v); err != nil {
		return err
	}
	if fc.persistFlush != nil {
		return fc.persistFlush(fc)
	}
	return nil
}
