package stairway

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusHook is a Hook implementation that emits structured log lines
// via logrus, the ambient structured-logging library carried over from
// the other server-class repo in this retrieval pack
// (evalgo-org-eve). It plays the same role the teacher's LogEmitter
// (graph/emit/log.go) plays for Emitter, upgraded to a real structured
// logger rather than an io.Writer text/JSON toggle, since Stairway
// instances are expected to run as long-lived services alongside other
// logrus-instrumented components.
type LogrusHook struct {
	NopHook
	log *logrus.Entry
}

// NewLogrusHook wraps logger (or logrus.StandardLogger() if nil) as a
// Hook.
func NewLogrusHook(logger *logrus.Logger) *LogrusHook {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusHook{log: logrus.NewEntry(logger)}
}

func (h *LogrusHook) fields(fc *FlightContext) logrus.Fields {
	return logrus.Fields{
		"flight_id":    fc.FlightID,
		"flight_class": fc.ClassName,
		"step_index":   fc.StepIndex,
		"direction":    fc.Direction,
	}
}

// StartFlight logs flight submission.
func (h *LogrusHook) StartFlight(_ context.Context, fc *FlightContext) {
	h.log.WithFields(h.fields(fc)).Info("flight started")
}

// EndFlight logs the flight's terminal or disowned status.
func (h *LogrusHook) EndFlight(_ context.Context, fc *FlightContext) {
	entry := h.log.WithFields(h.fields(fc)).WithField("status", fc.Status)
	switch fc.Status {
	case FlightFatal, FlightError:
		entry.Warn("flight ended")
	default:
		entry.Info("flight ended")
	}
}

// StartStep logs a step attempt beginning.
func (h *LogrusHook) StartStep(_ context.Context, fc *FlightContext) {
	h.log.WithFields(h.fields(fc)).
		WithField("step_class", stepClassName(fc.currentStep().step)).
		Debug("step started")
}

// EndStep logs a step attempt's outcome.
func (h *LogrusHook) EndStep(_ context.Context, fc *FlightContext, result StepResult) {
	entry := h.log.WithFields(h.fields(fc)).
		WithField("step_class", stepClassName(fc.currentStep().step)).
		WithField("status", result.Status)
	if result.Err != nil {
		entry = entry.WithField("error", result.Err.Error())
	}
	if !result.Status.succeeded() {
		entry.Warn("step ended")
		return
	}
	entry.Debug("step ended")
}

// StateTransition logs flight status transitions.
func (h *LogrusHook) StateTransition(_ context.Context, fc *FlightContext, from, to FlightStatus) {
	h.log.WithFields(h.fields(fc)).
		WithField("from", from).
		WithField("to", to).
		Info("flight state transition")
}
