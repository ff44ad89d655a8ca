package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for anomscan
type Registry struct {
	reg *prometheus.Registry

	// Computation metrics
	Computations       *prometheus.CounterVec
	ComputeDuration    prometheus.Histogram
	SeriesLength       prometheus.Histogram
	SegmentsFound      *prometheus.CounterVec
	FlaggedPoints      *prometheus.CounterVec
	ConfigurationError prometheus.Counter

	// Cache metrics
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheErrors   *prometheus.CounterVec
	CacheHitRatio prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	WSSessions   prometheus.Gauge
}

// NewRegistry creates the metric set on a dedicated Prometheus registry
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Computations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anomscan_computations_total",
				Help: "Total number of anomaly computations by outcome",
			},
			[]string{"result"},
		),

		ComputeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anomscan_compute_duration_seconds",
				Help:    "Duration of anomaly computations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		SeriesLength: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anomscan_series_length",
				Help:    "Number of data points per computed series",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),

		SegmentsFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anomscan_segments_total",
				Help: "Total number of anomaly segments found by metric key",
			},
			[]string{"key"},
		),

		FlaggedPoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anomscan_flagged_points_total",
				Help: "Total number of flagged points by metric key",
			},
			[]string{"key"},
		),

		ConfigurationError: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "anomscan_configuration_errors_total",
				Help: "Total number of computations rejected as misconfigured",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anomscan_cache_hits_total",
				Help: "Total number of result cache hits by backend",
			},
			[]string{"backend"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anomscan_cache_misses_total",
				Help: "Total number of result cache misses by backend",
			},
			[]string{"backend"},
		),

		CacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anomscan_cache_errors_total",
				Help: "Total number of result cache failures by backend and operation",
			},
			[]string{"backend", "op"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "anomscan_cache_hit_ratio",
				Help: "Current result cache hit ratio (0.0 to 1.0)",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anomscan_http_requests_total",
				Help: "Total number of HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anomscan_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		WSSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "anomscan_ws_sessions",
				Help: "Number of open websocket sessions",
			},
		),
	}

	r.reg.MustRegister(
		r.Computations,
		r.ComputeDuration,
		r.SeriesLength,
		r.SegmentsFound,
		r.FlaggedPoints,
		r.ConfigurationError,
		r.CacheHits,
		r.CacheMisses,
		r.CacheErrors,
		r.CacheHitRatio,
		r.HTTPRequests,
		r.HTTPDuration,
		r.WSSessions,
	)

	return r
}

// Gatherer exposes the underlying registry, mostly for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ComputeTimer tracks a single computation
type ComputeTimer struct {
	metrics *Registry
	start   time.Time
}

// StartCompute begins timing a computation
func (r *Registry) StartCompute() *ComputeTimer {
	return &ComputeTimer{metrics: r, start: time.Now()}
}

// Stop records the duration and outcome of the computation
func (ct *ComputeTimer) Stop(result string) {
	duration := time.Since(ct.start)
	ct.metrics.ComputeDuration.Observe(duration.Seconds())
	ct.metrics.Computations.WithLabelValues(result).Inc()

	log.Debug().
		Str("result", result).
		Dur("duration", duration).
		Msg("Computation completed")
}

// RecordMetric records per-key findings of a finished computation
func (r *Registry) RecordMetric(key string, segments, flagged int) {
	r.SegmentsFound.WithLabelValues(key).Add(float64(segments))
	r.FlaggedPoints.WithLabelValues(key).Add(float64(flagged))
}

// RecordSeriesLength observes the size of a computed series
func (r *Registry) RecordSeriesLength(n int) {
	r.SeriesLength.Observe(float64(n))
}

// RecordCacheHit records a cache hit for the backend
func (r *Registry) RecordCacheHit(backend string) {
	r.CacheHits.WithLabelValues(backend).Inc()
	r.updateCacheHitRatio(backend)
}

// RecordCacheMiss records a cache miss for the backend
func (r *Registry) RecordCacheMiss(backend string) {
	r.CacheMisses.WithLabelValues(backend).Inc()
	r.updateCacheHitRatio(backend)
}

// RecordCacheError records a failed cache operation
func (r *Registry) RecordCacheError(backend, op string) {
	r.CacheErrors.WithLabelValues(backend, op).Inc()
	log.Warn().
		Str("backend", backend).
		Str("op", op).
		Msg("Cache operation failed")
}

// RecordHTTPRequest records one served request
func (r *Registry) RecordHTTPRequest(route string, status int, duration time.Duration) {
	r.HTTPRequests.WithLabelValues(route, http.StatusText(status)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// updateCacheHitRatio recomputes the hit ratio for the active backend
func (r *Registry) updateCacheHitRatio(backend string) {
	hits := counterValue(r.CacheHits, backend)
	misses := counterValue(r.CacheMisses, backend)

	total := hits + misses
	if total > 0 {
		r.CacheHitRatio.Set(hits / total)
	}
}

func counterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
