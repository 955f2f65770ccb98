package stairway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exposes Prometheus-compatible counters and
// gauges for engine activity, namespaced "stairway_". Structurally
// this mirrors the teacher's PrometheusMetrics (graph/metrics.go):
// a handful of gauges/histograms/counters registered once and updated
// through small, enable-gated methods.
type PrometheusMetrics struct {
	activeFlights   prometheus.Gauge
	queuedFlights   prometheus.Gauge
	stepLatency     *prometheus.HistogramVec
	stepRetries     *prometheus.CounterVec
	flightsByStatus *prometheus.CounterVec
	dismalFailures  prometheus.Counter
	backpressure    *prometheus.CounterVec
}

// NewPrometheusMetrics registers all engine metrics with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for isolation in tests).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &PrometheusMetrics{
		activeFlights: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "stairway",
			Name:      "active_flights",
			Help:      "Number of flights currently RUNNING on this engine instance.",
		}),
		queuedFlights: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "stairway",
			Name:      "local_queued_flights",
			Help:      "Number of flights waiting in this instance's local worker pool backlog.",
		}),
		stepLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stairway",
			Name:      "step_latency_ms",
			Help:      "Step attempt duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"step_class", "direction", "status"}),
		stepRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stairway",
			Name:      "step_retries_total",
			Help:      "Count of FAILURE_RETRY outcomes consulted to a retry rule.",
		}, []string{"step_class", "direction"}),
		flightsByStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stairway",
			Name:      "flights_completed_total",
			Help:      "Count of flights reaching each terminal or disowned status.",
		}, []string{"status"}),
		dismalFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "stairway",
			Name:      "dismal_failures_total",
			Help:      "Count of flights whose undo leg itself failed (terminal FATAL).",
		}),
		backpressure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stairway",
			Name:      "backpressure_events_total",
			Help:      "Count of submissions deflected to the cluster queue due to local admission limits.",
		}, []string{"reason"}),
	}
}

func (m *PrometheusMetrics) recordStepLatency(stepClass string, direction Direction, status StepStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(stepClass, string(direction), string(status)).Observe(float64(d.Milliseconds()))
}

func (m *PrometheusMetrics) incRetry(stepClass string, direction Direction) {
	if m == nil {
		return
	}
	m.stepRetries.WithLabelValues(stepClass, string(direction)).Inc()
}

func (m *PrometheusMetrics) setActiveFlights(n int) {
	if m == nil {
		return
	}
	m.activeFlights.Set(float64(n))
}

func (m *PrometheusMetrics) setQueuedFlights(n int) {
	if m == nil {
		return
	}
	m.queuedFlights.Set(float64(n))
}

func (m *PrometheusMetrics) incCompleted(status FlightStatus) {
	if m == nil {
		return
	}
	m.flightsByStatus.WithLabelValues(string(status)).Inc()
	if status == FlightFatal {
		m.dismalFailures.Inc()
	}
}

func (m *PrometheusMetrics) incBackpressure(reason string) {
	if m == nil {
		return
	}
	m.backpressure.WithLabelValues(reason).Inc()
}
