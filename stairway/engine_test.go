package stairway

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/stairway/stairway/journal"
)

type constStep struct {
	status StepStatus
}

func (s constStep) Do(ctx context.Context, fc *FlightContext) (StepResult, error) {
	return StepResult{Status: s.status}, nil
}

func (s constStep) Undo(ctx context.Context, fc *FlightContext) (StepResult, error) {
	return Success(), nil
}

func waitForTerminal(t *testing.T, e *Engine, flightID string) *journal.FlightState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, err := e.GetFlightState(context.Background(), flightID)
		if err != nil {
			t.Fatalf("GetFlightState: %v", err)
		}
		if FlightStatus(state.Flight.Status).IsTerminal() {
			return state
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("flight %q did not reach a terminal status in time", flightID)
	return nil
}

func TestEngine_SubmitRunsFlightToSuccess(t *testing.T) {
	engine, err := New(WithMaxParallelFlights(2), WithInstanceName("test-instance"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = engine.RegisterFlightFactory("demo", func(ctx context.Context, inputs *ParamMap) (*Flight, error) {
		return NewFlight("demo").AddStep(constStep{status: StatusSuccess}, nil), nil
	})
	if err != nil {
		t.Fatalf("RegisterFlightFactory: %v", err)
	}

	ctx := context.Background()
	j := journal.NewMemJournal()
	if _, err := engine.Initialize(ctx, j, nil, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := engine.RecoverAndStart(ctx, nil); err != nil {
		t.Fatalf("RecoverAndStart: %v", err)
	}
	defer func() { _ = engine.Terminate(ctx, time.Second) }()

	if err := engine.Submit(ctx, "flight-1", "demo", nil, false, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	state := waitForTerminal(t, engine, "flight-1")
	if state.Flight.Status != string(FlightSuccess) {
		t.Fatalf("expected SUCCESS, got %s", state.Flight.Status)
	}
}

func TestEngine_SubmitRunsFlightToFatal(t *testing.T) {
	engine, err := New(WithInstanceName("test-instance"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = engine.RegisterFlightFactory("fails", func(ctx context.Context, inputs *ParamMap) (*Flight, error) {
		return NewFlight("fails").AddStep(alwaysFailStep{doStatus: StatusFailureFatal, undoStatus: StatusFailureFatal}, nil), nil
	})
	if err != nil {
		t.Fatalf("RegisterFlightFactory: %v", err)
	}

	ctx := context.Background()
	j := journal.NewMemJournal()
	if _, err := engine.Initialize(ctx, j, nil, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := engine.RecoverAndStart(ctx, nil); err != nil {
		t.Fatalf("RecoverAndStart: %v", err)
	}
	defer func() { _ = engine.Terminate(ctx, time.Second) }()

	if err := engine.Submit(ctx, "flight-2", "fails", nil, false, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	state := waitForTerminal(t, engine, "flight-2")
	if state.Flight.Status != string(FlightFatal) {
		t.Fatalf("expected FATAL, got %s", state.Flight.Status)
	}
}

func TestEngine_SubmitDuplicateFlightIDFails(t *testing.T) {
	engine, err := New(WithInstanceName("test-instance"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = engine.RegisterFlightFactory("demo", func(ctx context.Context, inputs *ParamMap) (*Flight, error) {
		return NewFlight("demo").AddStep(constStep{status: StatusSuccess}, nil), nil
	})

	ctx := context.Background()
	j := journal.NewMemJournal()
	if _, err := engine.Initialize(ctx, j, nil, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := engine.RecoverAndStart(ctx, nil); err != nil {
		t.Fatalf("RecoverAndStart: %v", err)
	}
	defer func() { _ = engine.Terminate(ctx, time.Second) }()

	if err := engine.Submit(ctx, "dup", "demo", nil, false, nil); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	waitForTerminal(t, engine, "dup")

	err = engine.Submit(ctx, "dup", "demo", nil, false, nil)
	if err == nil {
		t.Fatalf("expected error resubmitting a duplicate flight id")
	}
}

func TestEngine_SubmitUnregisteredClassFails(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	j := journal.NewMemJournal()
	if _, err := engine.Initialize(ctx, j, nil, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := engine.RecoverAndStart(ctx, nil); err != nil {
		t.Fatalf("RecoverAndStart: %v", err)
	}
	defer func() { _ = engine.Terminate(ctx, time.Second) }()

	if err := engine.Submit(ctx, "flight-x", "unregistered", nil, false, nil); err == nil {
		t.Fatalf("expected error submitting against an unregistered flight class")
	}
}

func TestEngine_InitializeTwiceFails(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if _, err := engine.Initialize(ctx, journal.NewMemJournal(), nil, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := engine.Initialize(ctx, journal.NewMemJournal(), nil, false); err == nil {
		t.Fatalf("expected error on a second Initialize call")
	}
}

func TestEngine_RecoverAndStartBeforeInitializeFails(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := engine.RecoverAndStart(context.Background(), nil); err == nil {
		t.Fatalf("expected error calling RecoverAndStart before Initialize")
	}
}
