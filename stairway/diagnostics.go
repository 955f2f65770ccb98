package stairway

import (
	"context"
	"strconv"
)

// diagCtxKey is an unexported context-key type, matching the
// teacher's contextKey pattern in graph/engine.go (a private type so
// no other package can collide on the key).
type diagCtxKey struct{}

// DiagnosticMap is an opaque key/value map propagated across worker
// pool task boundaries (spec.md §4.8 "Propagating diagnostic
// context"). It is intentionally vocabulary-free: no logger type, no
// tracing span, just strings, so callers can thread whatever
// correlation data they like without the engine importing a logging
// library into its public contract.
type DiagnosticMap map[string]string

// Clone returns a shallow copy of m.
func (m DiagnosticMap) Clone() DiagnosticMap {
	out := make(DiagnosticMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// withDiagnostics returns a context with dm installed, replacing any
// previously installed map.
func withDiagnostics(ctx context.Context, dm DiagnosticMap) context.Context {
	return context.WithValue(ctx, diagCtxKey{}, dm)
}

// DiagnosticsFromContext returns the diagnostic map installed on ctx,
// or nil if none was installed.
func DiagnosticsFromContext(ctx context.Context) DiagnosticMap {
	dm, _ := ctx.Value(diagCtxKey{}).(DiagnosticMap)
	return dm
}

// captureDiagnostics snapshots the diagnostic map on the submitting
// goroutine's context at task-submission time, per spec.md §4.8: every
// task handed to the pool captures the submitter's key/value map. A
// nil snapshot is normalized to an empty map so augmentation below
// never needs a nil check.
func captureDiagnostics(ctx context.Context) DiagnosticMap {
	if dm := DiagnosticsFromContext(ctx); dm != nil {
		return dm.Clone()
	}
	return DiagnosticMap{}
}

// augmentForFlight returns a copy of dm augmented with flight-level
// fields, installed on the worker goroutine for the lifetime of the
// flight (spec.md §4.8).
func augmentForFlight(dm DiagnosticMap, flightID, className string) DiagnosticMap {
	out := dm.Clone()
	out["flight_id"] = flightID
	out["flight_class"] = className
	return out
}

// augmentForStep returns a copy of dm further augmented with
// per-step fields (spec.md §4.8).
func augmentForStep(dm DiagnosticMap, stepClass string, direction Direction, stepIndex int) DiagnosticMap {
	out := dm.Clone()
	out["step_class"] = stepClass
	out["step_direction"] = string(direction)
	out["step_index"] = strconv.Itoa(stepIndex)
	return out
}
