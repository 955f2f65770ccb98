package stairway

import (
	"context"
	"testing"
)

type recordingHook struct {
	NopHook
	events []string
}

func (h *recordingHook) StartFlight(ctx context.Context, fc *FlightContext) {
	h.events = append(h.events, "start:"+fc.FlightID)
}

func (h *recordingHook) EndFlight(ctx context.Context, fc *FlightContext) {
	h.events = append(h.events, "end:"+fc.FlightID)
}

type transitionHook struct {
	NopHook
	transitions []string
}

func (h *transitionHook) StateTransition(ctx context.Context, fc *FlightContext, from, to FlightStatus) {
	h.transitions = append(h.transitions, string(from)+"->"+string(to))
}

type panickingHook struct {
	NopHook
}

func (panickingHook) StartStep(ctx context.Context, fc *FlightContext) {
	panic("boom")
}

func TestHookWrapper_StaticHookFiresOnStartAndEndFlight(t *testing.T) {
	h := &recordingHook{}
	w := NewHookWrapper([]Hook{h})
	fc := &FlightContext{FlightID: "f1"}

	w.StartFlight(context.Background(), fc)
	w.EndFlight(context.Background(), fc)

	if len(h.events) != 2 || h.events[0] != "start:f1" || h.events[1] != "end:f1" {
		t.Fatalf("unexpected events: %v", h.events)
	}
}

func TestHookWrapper_DynamicFactoryFiresAndIsDiscardedAfterEndFlight(t *testing.T) {
	built := &recordingHook{}
	w := NewHookWrapper(nil, func(fc *FlightContext) Hook { return built })
	fc := &FlightContext{FlightID: "f2"}

	w.StartFlight(context.Background(), fc)
	if len(w.dynamicFor("f2")) != 1 {
		t.Fatalf("expected one dynamic hook registered for f2")
	}
	w.EndFlight(context.Background(), fc)
	if len(w.dynamicFor("f2")) != 0 {
		t.Fatalf("expected dynamic hooks to be discarded after EndFlight")
	}
	if len(built.events) != 2 {
		t.Fatalf("expected dynamic hook to see both start and end, got %v", built.events)
	}
}

func TestHookWrapper_DynamicFactoryReturningNilIsSkipped(t *testing.T) {
	w := NewHookWrapper(nil, func(fc *FlightContext) Hook { return nil })
	fc := &FlightContext{FlightID: "f3"}
	w.StartFlight(context.Background(), fc)
	if len(w.dynamicFor("f3")) != 0 {
		t.Fatalf("expected no dynamic hooks when the factory returns nil")
	}
}

func TestHookWrapper_PanicIsRecoveredAndReported(t *testing.T) {
	w := NewHookWrapper([]Hook{panickingHook{}})
	var gotPoint string
	var gotErr any
	w.OnHookError(func(point string, err any) {
		gotPoint = point
		gotErr = err
	})

	fc := &FlightContext{FlightID: "f4"}
	w.StartStep(context.Background(), fc)

	if gotPoint != "startStep" {
		t.Fatalf("expected point=startStep, got %q", gotPoint)
	}
	if gotErr != "boom" {
		t.Fatalf("expected recovered panic value boom, got %v", gotErr)
	}
}

func TestHookWrapper_StateTransitionFiresOnStaticHooks(t *testing.T) {
	h := &transitionHook{}
	w := NewHookWrapper([]Hook{h})
	fc := &FlightContext{FlightID: "f5"}
	w.StateTransition(context.Background(), fc, FlightRunning, FlightSuccess)

	want := string(FlightRunning) + "->" + string(FlightSuccess)
	if len(h.transitions) != 1 || h.transitions[0] != want {
		t.Fatalf("expected one transition %q on the static hook, got %v", want, h.transitions)
	}
}

func TestHookWrapper_DynamicFactoryFiresPerStepAndIsDiscardedAfterEndStep(t *testing.T) {
	var built []*recordingHook
	w := NewHookWrapper(nil, func(fc *FlightContext) Hook {
		h := &recordingHook{}
		built = append(built, h)
		return h
	})
	fc := &FlightContext{FlightID: "f6", Direction: DirectionDo, StepIndex: 0}

	w.StartStep(context.Background(), fc)
	if len(built) != 1 {
		t.Fatalf("expected one dynamic hook built for the step, got %d", len(built))
	}
	key := hookStepKey(fc)
	if len(w.dynamicStep[key]) != 1 {
		t.Fatalf("expected the step's dynamic hook to be registered under its key")
	}

	w.EndStep(context.Background(), fc, Success())
	if len(w.dynamicStep[key]) != 0 {
		t.Fatalf("expected the step's dynamic hooks to be discarded after EndStep")
	}
	if len(built[0].events) != 0 {
		t.Fatalf("recordingHook only tracks StartFlight/EndFlight; expected no flight events from step calls, got %v", built[0].events)
	}

	fc.StepIndex = 1
	w.StartStep(context.Background(), fc)
	if len(built) != 2 {
		t.Fatalf("expected a fresh dynamic hook built for the second step attempt, got %d", len(built))
	}
}

func TestHookWrapper_IndependentFlightsHaveIndependentDynamicHooks(t *testing.T) {
	var built []*recordingHook
	w := NewHookWrapper(nil, func(fc *FlightContext) Hook {
		h := &recordingHook{}
		built = append(built, h)
		return h
	})

	fcA := &FlightContext{FlightID: "a"}
	fcB := &FlightContext{FlightID: "b"}
	w.StartFlight(context.Background(), fcA)
	w.StartFlight(context.Background(), fcB)

	if len(w.dynamicFor("a")) != 1 || len(w.dynamicFor("b")) != 1 {
		t.Fatalf("expected each flight to have its own dynamic hook set")
	}

	w.EndFlight(context.Background(), fcA)
	if len(w.dynamicFor("a")) != 0 {
		t.Fatalf("expected flight a's dynamic hooks to be cleared")
	}
	if len(w.dynamicFor("b")) != 1 {
		t.Fatalf("expected flight b's dynamic hooks to be unaffected by flight a's EndFlight")
	}
}
