// Package anomaly flags statistical outliers in multi-metric series using
// whole-series z-scores and reports them as contiguous segments.
package anomaly

import "math"

// Engine computes z-scores and anomaly segments for a fixed configuration.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	config Config
}

// NewEngine validates cfg and returns an engine bound to it
func NewEngine(cfg Config) (*Engine, error) {
	normalized, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &Engine{config: normalized}, nil
}

// Config returns the normalized configuration of the engine
func (e *Engine) Config() Config {
	return e.config
}

// Compute is a convenience wrapper around NewEngine(cfg).Compute(series)
func Compute(series Series, cfg Config) (*Result, error) {
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return engine.Compute(series)
}

// Compute runs the whole-series computation for every tracked key. An empty
// series yields empty tables and ErrEmptyInput in Result.Warnings.
func (e *Engine) Compute(series Series) (*Result, error) {
	columns, err := e.extract(series)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Keys:      append([]MetricKey(nil), e.config.Keys...),
		Threshold: e.config.Threshold,
		Length:    len(series),
		Metrics:   make(map[MetricKey]*MetricResult, len(e.config.Keys)),
	}
	if len(series) == 0 {
		result.Warnings = append(result.Warnings, ErrEmptyInput)
	}

	for _, key := range e.config.Keys {
		values := columns[key]

		stats := Summarize(values)
		if math.IsInf(stats.Mean, 0) || math.IsNaN(stats.StdDev) || math.IsInf(stats.StdDev, 0) {
			return nil, &ConfigurationError{
				Field:  "series",
				Key:    key,
				Index:  -1,
				Reason: "values overflow the float64 range",
			}
		}

		z := ZScores(values, stats)
		metric := &MetricResult{
			Key:      key,
			Stats:    stats,
			ZScores:  z,
			Flags:    Flags(z, e.config.Threshold),
			Segments: ExtractSegments(z, e.config.Threshold),
		}
		if e.config.Edges {
			metric.Edges = ExtractEdges(z, e.config.Threshold)
		}
		result.Metrics[key] = metric

		if e.config.Tracer != nil {
			e.config.Tracer.TraceMetric(key, stats, metric.FlaggedCount(), metric.Segments)
		}
	}

	return result, nil
}

// extract reads every tracked key from every point in a single pass so that a
// missing or malformed value fails before any arithmetic happens
func (e *Engine) extract(series Series) (map[MetricKey][]float64, error) {
	columns := make(map[MetricKey][]float64, len(e.config.Keys))
	for _, key := range e.config.Keys {
		columns[key] = make([]float64, len(series))
	}

	for i, point := range series {
		for _, key := range e.config.Keys {
			v, ok := e.config.Extractors[key](point)
			if !ok {
				if _, isAttr := point.Attrs[string(key)]; isAttr {
					return nil, valueError(key, i, "value is not numeric")
				}
				return nil, valueError(key, i, "value is missing")
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, valueError(key, i, "value is not finite")
			}
			columns[key][i] = v
		}
	}

	return columns, nil
}
