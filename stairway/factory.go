package stairway

import (
	"context"
	"fmt"
)

// Flight is a user-registered workflow definition: an ordered step
// list, each paired with the retry rule it runs under (spec.md §3
// "Flight", §6 "Flight factory contract"). A Flight value is built
// once per construction (at submit time, or at recovery time by the
// registered FlightFactory) and handed to the runner; it carries no
// in-memory flight state itself — that lives on FlightContext.
type Flight struct {
	ClassName string
	steps     []registeredStep
}

// NewFlight constructs an empty Flight for className. Callers add
// steps with AddStep inside their FlightFactory.
func NewFlight(className string) *Flight {
	return &Flight{ClassName: className}
}

// AddStep appends step to the flight's ordered step list, registered
// with retryRule (nil means NoRetry). Returns the Flight so calls can
// be chained, matching the teacher's builder-style node registration
// (graph/edge.go's AddNode/AddEdge chaining).
func (f *Flight) AddStep(step Step, retryRule RetryRule) *Flight {
	f.steps = append(f.steps, registeredStep{
		step:      step,
		retryRule: retryRule,
		class:     stepClassName(step),
	})
	return f
}

// StepCount returns the number of steps registered so far.
func (f *Flight) StepCount() int { return len(f.steps) }

// FlightFactory constructs a fresh Flight for className given the
// submitted input map (spec.md §6 "Flight factory contract"):
// determinism is the caller's responsibility — the same className and
// inputs must always register the same ordered step list and retry
// rules, or recovery after a restart will resume against a different
// flight than the one that was journaled.
//
// ctx is the caller's application context captured at Submit time (or,
// on recovery, the context passed to Engine.Resume by its caller), letting a factory
// reach application-level collaborators (a DB handle, an HTTP client)
// without the engine needing to know about them.
type FlightFactory func(ctx context.Context, inputs *ParamMap) (*Flight, error)

// registry is an Engine's string-keyed FlightFactory lookup table —
// the Go-native replacement for the source's reflective
// construct-by-class-name (spec.md §9): "Reflective construction of
// flights by class name -> replace with a registry: string key ->
// factory callable supplied at configuration time."
type registry struct {
	factories map[string]FlightFactory
}

func newRegistry() *registry {
	return &registry{factories: make(map[string]FlightFactory)}
}

func (r *registry) register(className string, f FlightFactory) error {
	if className == "" {
		return fmt.Errorf("stairway: flight class name must not be empty")
	}
	if f == nil {
		return fmt.Errorf("stairway: flight factory for %q must not be nil", className)
	}
	r.factories[className] = f
	return nil
}

func (r *registry) build(ctx context.Context, className string, inputs *ParamMap) (*Flight, error) {
	f, ok := r.factories[className]
	if !ok {
		return nil, fmt.Errorf("stairway: no flight factory registered for class %q", className)
	}
	flight, err := f(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("stairway: building flight %q: %w", className, err)
	}
	if flight == nil {
		return nil, fmt.Errorf("stairway: flight factory for %q returned nil", className)
	}
	return flight, nil
}
