package stairway

import (
	"context"
	"errors"
	"testing"
)

type fakeStep struct{}

func (fakeStep) Do(ctx context.Context, fc *FlightContext) (StepResult, error)   { return Success(), nil }
func (fakeStep) Undo(ctx context.Context, fc *FlightContext) (StepResult, error) { return Success(), nil }

func TestFlight_AddStep_ChainsAndCounts(t *testing.T) {
	f := NewFlight("demo")
	ret := f.AddStep(fakeStep{}, nil).AddStep(fakeStep{}, NewFixedInterval(0, 1))
	if ret != f {
		t.Fatalf("expected AddStep to return the same *Flight for chaining")
	}
	if f.StepCount() != 2 {
		t.Fatalf("expected 2 steps, got %d", f.StepCount())
	}
}

func TestRegistry_RegisterRejectsEmptyClassName(t *testing.T) {
	r := newRegistry()
	err := r.register("", func(ctx context.Context, inputs *ParamMap) (*Flight, error) {
		return NewFlight(""), nil
	})
	if err == nil {
		t.Fatalf("expected error registering an empty class name")
	}
}

func TestRegistry_RegisterRejectsNilFactory(t *testing.T) {
	r := newRegistry()
	if err := r.register("demo", nil); err == nil {
		t.Fatalf("expected error registering a nil factory")
	}
}

func TestRegistry_BuildUnknownClassReturnsError(t *testing.T) {
	r := newRegistry()
	if _, err := r.build(context.Background(), "missing", NewParamMap(nil)); err == nil {
		t.Fatalf("expected error building an unregistered class")
	}
}

func TestRegistry_BuildPropagatesFactoryError(t *testing.T) {
	r := newRegistry()
	wantErr := errors.New("boom")
	_ = r.register("demo", func(ctx context.Context, inputs *ParamMap) (*Flight, error) {
		return nil, wantErr
	})
	_, err := r.build(context.Background(), "demo", NewParamMap(nil))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped factory error, got %v", err)
	}
}

func TestRegistry_BuildRejectsNilFlight(t *testing.T) {
	r := newRegistry()
	_ = r.register("demo", func(ctx context.Context, inputs *ParamMap) (*Flight, error) {
		return nil, nil
	})
	if _, err := r.build(context.Background(), "demo", NewParamMap(nil)); err == nil {
		t.Fatalf("expected error when factory returns a nil flight with no error")
	}
}

func TestRegistry_BuildSucceeds(t *testing.T) {
	r := newRegistry()
	_ = r.register("demo", func(ctx context.Context, inputs *ParamMap) (*Flight, error) {
		return NewFlight("demo").AddStep(fakeStep{}, nil), nil
	})
	flight, err := r.build(context.Background(), "demo", NewParamMap(nil))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if flight.ClassName != "demo" || flight.StepCount() != 1 {
		t.Fatalf("unexpected flight: %+v", flight)
	}
}
