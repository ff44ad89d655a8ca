package anomaly

import "github.com/rs/zerolog"

// Tracer observes intermediate state of a computation. Implementations must
// not retain the slices they are handed.
type Tracer interface {
	TraceMetric(key MetricKey, stats Stats, flagged int, segments []Segment)
}

// LogTracer writes one structured debug event per metric
type LogTracer struct {
	Logger zerolog.Logger
}

// NewLogTracer creates a tracer on top of the given logger
func NewLogTracer(logger zerolog.Logger) *LogTracer {
	return &LogTracer{Logger: logger.With().Str("component", "anomaly").Logger()}
}

func (t *LogTracer) TraceMetric(key MetricKey, stats Stats, flagged int, segments []Segment) {
	t.Logger.Debug().
		Str("key", string(key)).
		Int("count", stats.Count).
		Float64("mean", stats.Mean).
		Float64("std_dev", stats.StdDev).
		Int("flagged", flagged).
		Int("segments", len(segments)).
		Msg("metric computed")
}
