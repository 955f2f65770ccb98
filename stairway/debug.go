package stairway

// FlightDebugInfo is an optional fault-injection descriptor attached
// at flight submission and never mutated thereafter (spec.md §3
// invariant 5). It lets tests and operators force specific step
// outcomes without modifying step code.
//
// Each "failure once" map is consumed at most once per armed key for
// the lifetime of one runner instantiation: re-entry after a restart
// re-arms the injection, matching spec.md §4.4.
//
// Combined precedence when multiple knobs could fire for the same
// step: index-based forced status is consulted first, then
// class-based, then LastStepFailure. This resolves the open question
// in spec.md §9 (ambiguous combinations of index-based and
// class-based injection for the same step) by documenting and fixing
// an order rather than leaving it to implementation accident.
type FlightDebugInfo struct {
	// DoStepFailures maps a step index to a status forced the first
	// time that index is reached while doing.
	DoStepFailures map[int]StepStatus

	// UndoStepFailures mirrors DoStepFailures for the undo direction.
	UndoStepFailures map[int]StepStatus

	// DoClassFailures maps a step class name (see stepClassName) to a
	// status forced the first time a step of that class is reached
	// while doing.
	DoClassFailures map[string]StepStatus

	// UndoClassFailures mirrors DoClassFailures for the undo direction.
	UndoClassFailures map[string]StepStatus

	// LastStepFailure forces StatusFailureFatal immediately after the
	// final do-step of the flight would otherwise have succeeded.
	LastStepFailure bool

	// RestartEachStep, when set, makes runSteps journal the current
	// step and return a synthesized RESTART_FLIGHT result after every
	// single step, forcing the flight to re-queue from the top on each
	// advance (spec.md §4.4).
	RestartEachStep bool
}

// debugInjector tracks which once-armed fault-injection entries have
// already fired during this runner instantiation, mirroring the
// teacher's per-run lookup-by-key pattern in graph/replay.go
// generalized from "looked up" to "consumed once".
type debugInjector struct {
	info *FlightDebugInfo

	firedDoIndex    map[int]bool
	firedUndoIndex  map[int]bool
	firedDoClass    map[string]bool
	firedUndoClass  map[string]bool
	firedLastFailure bool
}

func newDebugInjector(info *FlightDebugInfo) *debugInjector {
	return &debugInjector{
		info:           info,
		firedDoIndex:   make(map[int]bool),
		firedUndoIndex: make(map[int]bool),
		firedDoClass:   make(map[string]bool),
		firedUndoClass: make(map[string]bool),
	}
}

// forcedStatus returns the status to force for the given step, if any
// once-armed knob still applies, consuming it. Precedence: index, then
// class. LastStepFailure is applied separately by the runner after a
// would-be-final success (see maybeForceLastStepFailure).
func (d *debugInjector) forcedStatus(direction Direction, index int, class string) (StepStatus, bool) {
	if d == nil || d.info == nil {
		return "", false
	}

	switch direction {
	case DirectionUndo:
		if d.info.UndoStepFailures != nil {
			if st, ok := d.info.UndoStepFailures[index]; ok && !d.firedUndoIndex[index] {
				d.firedUndoIndex[index] = true
				return st, true
			}
		}
		if d.info.UndoClassFailures != nil {
			if st, ok := d.info.UndoClassFailures[class]; ok && !d.firedUndoClass[class] {
				d.firedUndoClass[class] = true
				return st, true
			}
		}
	default: // DO and SWITCH-as-undo-of-current both use the do-side maps while doing forward
		if d.info.DoStepFailures != nil {
			if st, ok := d.info.DoStepFailures[index]; ok && !d.firedDoIndex[index] {
				d.firedDoIndex[index] = true
				return st, true
			}
		}
		if d.info.DoClassFailures != nil {
			if st, ok := d.info.DoClassFailures[class]; ok && !d.firedDoClass[class] {
				d.firedDoClass[class] = true
				return st, true
			}
		}
	}
	return "", false
}

// maybeForceLastStepFailure consumes LastStepFailure exactly once,
// returning true if it should override an otherwise-successful final
// do-step with StatusFailureFatal.
func (d *debugInjector) maybeForceLastStepFailure() bool {
	if d == nil || d.info == nil || !d.info.LastStepFailure || d.firedLastFailure {
		return false
	}
	d.firedLastFailure = true
	return true
}

func (d *debugInjector) restartEachStep() bool {
	return d != nil && d.info != nil && d.info.RestartEachStep
}

// encodeDebugInfo serializes info for storage in FlightRow.DebugInfo.
// A nil info encodes to the empty string.
func encodeDebugInfo(codec ObjectCodec, info *FlightDebugInfo) (string, error) {
	if info == nil {
		return "", nil
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	return codec.Encode(info)
}

// decodeDebugInfo reverses encodeDebugInfo. An empty string decodes to
// a nil *FlightDebugInfo.
func decodeDebugInfo(codec ObjectCodec, s string) (*FlightDebugInfo, error) {
	if s == "" {
		return nil, nil
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	var info FlightDebugInfo
	if err := codec.Decode(s, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
