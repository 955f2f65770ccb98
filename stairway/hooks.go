package stairway

import (
	"context"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// Hook receives callbacks at defined points in a flight's execution
// (spec.md §4.5): startFlight, endFlight, startStep, endStep, and
// stateTransition. Hook errors are caught, logged, and suppressed —
// they never fail a flight (spec.md §7). Implementations must not
// block execution for long; like the teacher's Emitter
// (graph/emit/emitter.go), hooks should be non-blocking and
// resilient.
type Hook interface {
	StartFlight(ctx context.Context, fc *FlightContext)
	EndFlight(ctx context.Context, fc *FlightContext)
	StartStep(ctx context.Context, fc *FlightContext)
	EndStep(ctx context.Context, fc *FlightContext, result StepResult)
	StateTransition(ctx context.Context, fc *FlightContext, from, to FlightStatus)
}

// NopHook implements Hook with no-op methods, useful for embedding in
// hooks that only care about a subset of callback points.
type NopHook struct{}

func (NopHook) StartFlight(context.Context, *FlightContext)                      {}
func (NopHook) EndFlight(context.Context, *FlightContext)                        {}
func (NopHook) StartStep(context.Context, *FlightContext)                       {}
func (NopHook) EndStep(context.Context, *FlightContext, StepResult)              {}
func (NopHook) StateTransition(context.Context, *FlightContext, FlightStatus, FlightStatus) {}

// DynamicHookFactory builds a per-flight or per-step Hook on demand.
// It is consulted at startFlight/startStep; the returned hook's
// End* callbacks fire on the matching endFlight/endStep (spec.md
// §4.5).
type DynamicHookFactory func(fc *FlightContext) Hook

// HookWrapper aggregates an ordered list of static hooks plus dynamic
// hooks produced by factories, and fires all of them at each
// invocation point, catching and suppressing any panic or error a hook
// implementation might raise through a logging callback.
//
// Grounded on the teacher's single-Emitter fan-out pattern, generalized
// from one Emit(Event) call to the five named invocation points
// spec.md requires.
type HookWrapper struct {
	static    []Hook
	factories []DynamicHookFactory
	onHookErr func(point string, err any)

	mu          sync.Mutex
	dynamic     map[string][]Hook // flightID -> per-flight dynamic hooks, guarded by mu since flights run concurrently
	dynamicStep map[string][]Hook // stepKey(fc) -> per-step dynamic hooks, discarded at the matching endStep
}

// NewHookWrapper constructs a HookWrapper from a static hook list and
// zero or more dynamic hook factories.
func NewHookWrapper(static []Hook, factories ...DynamicHookFactory) *HookWrapper {
	return &HookWrapper{
		static:      static,
		factories:   factories,
		dynamic:     make(map[string][]Hook),
		dynamicStep: make(map[string][]Hook),
	}
}

// hookStepKey identifies one step attempt within a flight, matching
// the teacher-derived stepSpanKey convention in tracing.go.
func hookStepKey(fc *FlightContext) string {
	return fc.FlightID + ":" + string(fc.Direction) + ":" + strconv.Itoa(fc.StepIndex)
}

// OnHookError installs a callback invoked whenever a hook panics, in
// place of the default, which logs the panic through logrus's standard
// logger. Either way the panic is suppressed.
func (w *HookWrapper) OnHookError(fn func(point string, err any)) {
	w.onHookErr = fn
}

func (w *HookWrapper) safeCall(point string, fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if w.onHookErr != nil {
			w.onHookErr(point, r)
			return
		}
		logrus.WithField("hook_point", point).Errorf("stairway: hook panicked: %v", r)
	}()
	fn()
}

// StartFlight builds any dynamic hooks for this flight and fires
// StartFlight on every static and dynamic hook.
func (w *HookWrapper) StartFlight(ctx context.Context, fc *FlightContext) {
	var built []Hook
	for _, f := range w.factories {
		if f == nil {
			continue
		}
		if h := f(fc); h != nil {
			built = append(built, h)
		}
	}
	w.mu.Lock()
	w.dynamic[fc.FlightID] = built
	w.mu.Unlock()

	for _, h := range w.static {
		hh := h
		w.safeCall("startFlight", func() { hh.StartFlight(ctx, fc) })
	}
	for _, h := range built {
		hh := h
		w.safeCall("startFlight", func() { hh.StartFlight(ctx, fc) })
	}
}

// EndFlight fires EndFlight on every static and this flight's dynamic
// hooks, then discards the dynamic set.
func (w *HookWrapper) EndFlight(ctx context.Context, fc *FlightContext) {
	for _, h := range w.static {
		hh := h
		w.safeCall("endFlight", func() { hh.EndFlight(ctx, fc) })
	}
	for _, h := range w.dynamicFor(fc.FlightID) {
		hh := h
		w.safeCall("endFlight", func() { hh.EndFlight(ctx, fc) })
	}
	w.mu.Lock()
	delete(w.dynamic, fc.FlightID)
	w.mu.Unlock()
}

// dynamicFor returns a snapshot of the per-flight dynamic hook slice.
func (w *HookWrapper) dynamicFor(flightID string) []Hook {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dynamic[flightID]
}

// StartStep builds any dynamic hooks for this step attempt (spec.md
// §4.5: factories are consulted at startStep as well as startFlight),
// then fires StartStep on every static, per-flight dynamic, and
// per-step dynamic hook.
func (w *HookWrapper) StartStep(ctx context.Context, fc *FlightContext) {
	var built []Hook
	for _, f := range w.factories {
		if f == nil {
			continue
		}
		if h := f(fc); h != nil {
			built = append(built, h)
		}
	}
	key := hookStepKey(fc)
	w.mu.Lock()
	w.dynamicStep[key] = built
	w.mu.Unlock()

	for _, h := range w.static {
		hh := h
		w.safeCall("startStep", func() { hh.StartStep(ctx, fc) })
	}
	for _, h := range w.dynamicFor(fc.FlightID) {
		hh := h
		w.safeCall("startStep", func() { hh.StartStep(ctx, fc) })
	}
	for _, h := range built {
		hh := h
		w.safeCall("startStep", func() { hh.StartStep(ctx, fc) })
	}
}

// EndStep fires EndStep (always, even after a step-level error) on
// every static, per-flight dynamic, and per-step dynamic hook, then
// discards this step's dynamic hooks.
func (w *HookWrapper) EndStep(ctx context.Context, fc *FlightContext, result StepResult) {
	key := hookStepKey(fc)
	w.mu.Lock()
	stepHooks := w.dynamicStep[key]
	delete(w.dynamicStep, key)
	w.mu.Unlock()

	for _, h := range w.static {
		hh := h
		w.safeCall("endStep", func() { hh.EndStep(ctx, fc, result) })
	}
	for _, h := range w.dynamicFor(fc.FlightID) {
		hh := h
		w.safeCall("endStep", func() { hh.EndStep(ctx, fc, result) })
	}
	for _, h := range stepHooks {
		hh := h
		w.safeCall("endStep", func() { hh.EndStep(ctx, fc, result) })
	}
}

// StateTransition fires after the transaction that performed the
// transition commits (spec.md §5 ordering guarantees).
func (w *HookWrapper) StateTransition(ctx context.Context, fc *FlightContext, from, to FlightStatus) {
	for _, h := range w.static {
		hh := h
		w.safeCall("stateTransition", func() { hh.StateTransition(ctx, fc, from, to) })
	}
	for _, h := range w.dynamicFor(fc.FlightID) {
		hh := h
		w.safeCall("stateTransition", func() { hh.StateTransition(ctx, fc, from, to) })
	}
}
