package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/anomscan/internal/anomaly"
	"github.com/sawpanic/anomscan/internal/cache"
	"github.com/sawpanic/anomscan/internal/metrics"
	"github.com/sawpanic/anomscan/internal/series"
)

// Computation outcomes reported to metrics
const (
	ResultOK          = "ok"
	ResultEmpty       = "empty"
	ResultConfigError = "config_error"
	ResultCached      = "cached"
)

// SourceError wraps failures to load a series, as opposed to failures to
// analyze one
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Analyzer runs the engine behind an optional result cache and records
// metrics for every computation. Safe for concurrent use.
type Analyzer struct {
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Registry
}

// NewAnalyzer wires an analyzer. A nil cache disables memoization and a nil
// registry gets a private one.
func NewAnalyzer(c cache.Cache, ttl time.Duration, m *metrics.Registry) *Analyzer {
	if c == nil {
		c = cache.Noop{}
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Analyzer{cache: c, ttl: ttl, metrics: m}
}

// Metrics returns the registry the analyzer reports to
func (a *Analyzer) Metrics() *metrics.Registry {
	return a.metrics
}

// Analyze computes anomalies for s. Cache failures degrade to recomputation.
func (a *Analyzer) Analyze(ctx context.Context, s anomaly.Series, cfg anomaly.Config) (*anomaly.Result, error) {
	digest := ""
	if a.cacheable(cfg) {
		if d, err := cache.Digest(s, cfg); err == nil {
			digest = d
		} else {
			log.Warn().Err(err).Msg("Skipping cache, series could not be fingerprinted")
		}
	}

	if digest != "" {
		if result, ok := a.lookup(ctx, digest); ok {
			a.metrics.StartCompute().Stop(ResultCached)
			return result, nil
		}
	}

	timer := a.metrics.StartCompute()
	result, err := anomaly.Compute(s, cfg)
	if err != nil {
		timer.Stop(ResultConfigError)
		if errors.Is(err, anomaly.ErrConfiguration) {
			a.metrics.ConfigurationError.Inc()
		}
		return nil, err
	}

	a.metrics.RecordSeriesLength(result.Length)
	if result.Empty() {
		timer.Stop(ResultEmpty)
		log.Warn().Msg("Empty series, nothing to analyze")
	} else {
		timer.Stop(ResultOK)
		for _, key := range result.Keys {
			m := result.Metrics[key]
			a.metrics.RecordMetric(string(key), len(m.Segments), m.FlaggedCount())
		}
	}

	if digest != "" {
		a.store(ctx, digest, result)
	}

	log.Debug().
		Int("points", result.Length).
		Int("keys", len(result.Keys)).
		Bool("anomalies", result.HasAnomalies()).
		Msg("Series analyzed")

	return result, nil
}

// AnalyzeSource loads src and analyzes it. The loaded series is returned so
// callers can resolve segment positions to labels.
func (a *Analyzer) AnalyzeSource(ctx context.Context, src series.Source, cfg anomaly.Config) (anomaly.Series, *anomaly.Result, error) {
	start := time.Now()
	s, err := src.Load(ctx)
	if err != nil {
		return nil, nil, &SourceError{Source: src.String(), Err: err}
	}
	log.Info().
		Str("source", src.String()).
		Int("points", len(s)).
		Dur("load_time", time.Since(start)).
		Msg("Series loaded")

	result, err := a.Analyze(ctx, s, cfg)
	if err != nil {
		return s, nil, err
	}
	return s, result, nil
}

// cacheable reports whether the result depends only on what Digest covers
func (a *Analyzer) cacheable(cfg anomaly.Config) bool {
	if a.cache.Name() == cache.BackendNone {
		return false
	}
	return len(cfg.Extractors) == 0 && cfg.Tracer == nil
}

func (a *Analyzer) lookup(ctx context.Context, digest string) (*anomaly.Result, bool) {
	backend := a.cache.Name()

	data, found, err := a.cache.Get(ctx, digest)
	if err != nil {
		a.metrics.RecordCacheError(backend, "get")
		log.Warn().Err(err).Str("backend", backend).Msg("Cache read failed, recomputing")
		return nil, false
	}
	if !found {
		a.metrics.RecordCacheMiss(backend)
		return nil, false
	}

	result, err := cache.DecodeResult(data)
	if err != nil {
		a.metrics.RecordCacheError(backend, "decode")
		log.Warn().Err(err).Str("backend", backend).Msg("Discarding undecodable cache entry")
		return nil, false
	}

	a.metrics.RecordCacheHit(backend)
	return result, true
}

func (a *Analyzer) store(ctx context.Context, digest string, result *anomaly.Result) {
	backend := a.cache.Name()

	data, err := cache.EncodeResult(result)
	if err != nil {
		a.metrics.RecordCacheError(backend, "encode")
		return
	}
	if err := a.cache.Set(ctx, digest, data, a.ttl); err != nil {
		a.metrics.RecordCacheError(backend, "set")
	}
}
