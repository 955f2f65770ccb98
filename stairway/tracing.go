package stairway

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelHook is a Hook implementation that emits OpenTelemetry spans for
// each flight and each step attempt, the same role the teacher's
// graph/emit/otel.go adapter plays for its own Emitter interface,
// generalized from a single Event type to the five Hook callback
// points.
type OTelHook struct {
	NopHook
	tracer trace.Tracer

	mu          sync.Mutex
	flightSpans map[string]trace.Span
	stepSpans   map[string]trace.Span
}

// NewOTelHook constructs an OTelHook using the given tracer provider,
// or the global tracer provider's "stairway" tracer if tp is nil.
func NewOTelHook(tp trace.TracerProvider) *OTelHook {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelHook{
		tracer:      tp.Tracer("stairway"),
		flightSpans: make(map[string]trace.Span),
		stepSpans:   make(map[string]trace.Span),
	}
}

// StartFlight opens a span for the flight's execution.
func (h *OTelHook) StartFlight(ctx context.Context, fc *FlightContext) {
	_, span := h.tracer.Start(ctx, "flight."+fc.ClassName,
		trace.WithAttributes(
			attribute.String("flight.id", fc.FlightID),
			attribute.String("flight.class", fc.ClassName),
		))
	h.mu.Lock()
	h.flightSpans[fc.FlightID] = span
	h.mu.Unlock()
}

// EndFlight closes the flight's span, recording the final status.
func (h *OTelHook) EndFlight(_ context.Context, fc *FlightContext) {
	h.mu.Lock()
	span, ok := h.flightSpans[fc.FlightID]
	delete(h.flightSpans, fc.FlightID)
	h.mu.Unlock()
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("flight.status", string(fc.Status)))
	if fc.Status == FlightError || fc.Status == FlightFatal {
		span.SetStatus(codes.Error, string(fc.Status))
	}
	span.End()
}

// StartStep opens a child span for one step attempt.
func (h *OTelHook) StartStep(ctx context.Context, fc *FlightContext) {
	h.mu.Lock()
	parent, ok := h.flightSpans[fc.FlightID]
	h.mu.Unlock()
	if ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}

	stepClass := stepClassName(fc.currentStep().step)
	_, span := h.tracer.Start(ctx, "step."+stepClass,
		trace.WithAttributes(
			attribute.String("step.class", stepClass),
			attribute.String("step.direction", string(fc.Direction)),
			attribute.Int("step.index", fc.StepIndex),
		))
	h.mu.Lock()
	h.stepSpans[stepSpanKey(fc)] = span
	h.mu.Unlock()
}

// EndStep closes the step's span, recording the attempt's outcome.
func (h *OTelHook) EndStep(_ context.Context, fc *FlightContext, result StepResult) {
	key := stepSpanKey(fc)
	h.mu.Lock()
	span, ok := h.stepSpans[key]
	delete(h.stepSpans, key)
	h.mu.Unlock()
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("step.status", string(result.Status)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	span.End()
}

func stepSpanKey(fc *FlightContext) string {
	return fc.FlightID + ":" + string(fc.Direction) + ":" + strconv.Itoa(fc.StepIndex)
}
