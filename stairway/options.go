package stairway

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Options configures an Engine (spec.md §6 configuration table). It
// follows the teacher's pattern of a plain config struct
// (graph/options.go's engineConfig) populated either directly or via
// functional Option values.
type Options struct {
	// MaxParallelFlights is the worker pool size (default 20).
	MaxParallelFlights int

	// MaxQueuedFlights is the local backlog tolerated before deflecting
	// submissions to the cluster queue (default 2).
	MaxQueuedFlights int

	// InstanceName is this engine's unique cluster-wide identity;
	// generated if empty.
	InstanceName string

	// ExceptionCodec serializes terminal flight errors; defaults to
	// JSONExceptionCodec.
	ExceptionCodec ExceptionCodec

	// ObjectCodec serializes parameter map values; defaults to
	// JSONCodec.
	ObjectCodec ObjectCodec

	// CompletedFlightRetention, if non-zero, is the age past which
	// completed flights become eligible for the retention sweeper.
	// Zero means retain forever.
	CompletedFlightRetention time.Duration

	// RetentionCheckInterval is how often the sweeper runs, when
	// CompletedFlightRetention is set.
	RetentionCheckInterval time.Duration

	// Hooks is the ordered static hook list.
	Hooks []Hook

	// Metrics, if set, receives Prometheus instrumentation callbacks.
	Metrics *PrometheusMetrics
}

// Option mutates an Options value, following the teacher's
// functional-options pattern (graph/options.go).
type Option func(*Options) error

func defaultOptions() Options {
	return Options{
		MaxParallelFlights:     20,
		MaxQueuedFlights:       2,
		ExceptionCodec:         JSONExceptionCodec{},
		ObjectCodec:            JSONCodec{},
		RetentionCheckInterval: time.Hour,
	}
}

func applyOptions(opts ...Option) (Options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	if o.InstanceName == "" {
		o.InstanceName = uuid.NewString()
	}
	if o.ObjectCodec == nil {
		o.ObjectCodec = JSONCodec{}
	}
	if o.ExceptionCodec == nil {
		o.ExceptionCodec = JSONExceptionCodec{}
	}
	return o, nil
}

// WithMaxParallelFlights sets the worker pool size.
func WithMaxParallelFlights(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("stairway: MaxParallelFlights must be >= 1, got %d", n)
		}
		o.MaxParallelFlights = n
		return nil
	}
}

// WithMaxQueuedFlights sets the local backlog tolerated before
// deflecting to the cluster queue.
func WithMaxQueuedFlights(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return fmt.Errorf("stairway: MaxQueuedFlights must be >= 0, got %d", n)
		}
		o.MaxQueuedFlights = n
		return nil
	}
}

// WithInstanceName sets this engine's cluster-wide identity.
func WithInstanceName(name string) Option {
	return func(o *Options) error {
		if name == "" {
			return fmt.Errorf("stairway: instance name must not be empty")
		}
		o.InstanceName = name
		return nil
	}
}

// WithExceptionCodec overrides the default JSONExceptionCodec.
func WithExceptionCodec(c ExceptionCodec) Option {
	return func(o *Options) error {
		o.ExceptionCodec = c
		return nil
	}
}

// WithObjectCodec overrides the default JSONCodec.
func WithObjectCodec(c ObjectCodec) Option {
	return func(o *Options) error {
		o.ObjectCodec = c
		return nil
	}
}

// WithRetention enables the completed-flight retention sweeper.
func WithRetention(maxAge, checkInterval time.Duration) Option {
	return func(o *Options) error {
		if maxAge <= 0 {
			return fmt.Errorf("stairway: retention maxAge must be > 0")
		}
		o.CompletedFlightRetention = maxAge
		if checkInterval > 0 {
			o.RetentionCheckInterval = checkInterval
		}
		return nil
	}
}

// WithHooks sets the ordered static hook list.
func WithHooks(hooks ...Hook) Option {
	return func(o *Options) error {
		o.Hooks = hooks
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(o *Options) error {
		o.Metrics = m
		return nil
	}
}
