package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/anomscan/internal/anomaly"
	"github.com/sawpanic/anomscan/internal/cache"
	"github.com/sawpanic/anomscan/internal/metrics"
	"github.com/sawpanic/anomscan/internal/series"
)

func pvSeries(values ...float64) anomaly.Series {
	s := make(anomaly.Series, len(values))
	for i, v := range values {
		s[i] = anomaly.DataPoint{Values: map[anomaly.MetricKey]float64{"pv": v}}
	}
	return s
}

// failingCache always errors, like an unreachable Redis
type failingCache struct{ sets int }

func (f *failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (f *failingCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	f.sets++
	return errors.New("connection refused")
}

func (f *failingCache) Name() string { return "failing" }

func TestAnalyzer_ComputesAndCaches(t *testing.T) {
	m := metrics.NewRegistry()
	a := NewAnalyzer(cache.NewMemory(), time.Minute, m)
	ctx := context.Background()
	s := pvSeries(10, 10, 10, 100)
	cfg := anomaly.DefaultConfig("pv")

	first, err := a.Analyze(ctx, s, cfg)
	require.NoError(t, err)
	assert.Equal(t, []anomaly.Segment{{Start: 3, End: 3}}, first.Metric("pv").Segments)

	second, err := a.Analyze(ctx, s, cfg)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues(cache.BackendMemory)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(cache.BackendMemory)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues(ResultCached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SegmentsFound.WithLabelValues("pv")))
}

func TestAnalyzer_ConfigurationError(t *testing.T) {
	m := metrics.NewRegistry()
	a := NewAnalyzer(nil, 0, m)

	_, err := a.Analyze(context.Background(), pvSeries(1, 2), anomaly.Config{Keys: []anomaly.MetricKey{"pv"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, anomaly.ErrConfiguration)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigurationError))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues(ResultConfigError)))
}

func TestAnalyzer_EmptySeries(t *testing.T) {
	m := metrics.NewRegistry()
	a := NewAnalyzer(cache.NewMemory(), time.Minute, m)

	result, err := a.Analyze(context.Background(), anomaly.Series{}, anomaly.DefaultConfig("pv"))
	require.NoError(t, err)
	assert.True(t, result.Empty())
	require.Len(t, result.Warnings, 1)
	assert.True(t, anomaly.IsEmptyInput(result.Warnings[0]))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Computations.WithLabelValues(ResultEmpty)))

	// a cached empty result keeps its warning
	again, err := a.Analyze(context.Background(), anomaly.Series{}, anomaly.DefaultConfig("pv"))
	require.NoError(t, err)
	require.Len(t, again.Warnings, 1)
}

func TestAnalyzer_CacheFailureDegrades(t *testing.T) {
	m := metrics.NewRegistry()
	fc := &failingCache{}
	a := NewAnalyzer(fc, time.Minute, m)

	result, err := a.Analyze(context.Background(), pvSeries(1, 1, 1, 9), anomaly.DefaultConfig("pv"))
	require.NoError(t, err)
	assert.True(t, result.HasAnomalies())
	assert.Equal(t, 1, fc.sets)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("failing", "get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("failing", "set")))
}

func TestAnalyzer_CustomExtractorsBypassCache(t *testing.T) {
	m := metrics.NewRegistry()
	a := NewAnalyzer(cache.NewMemory(), time.Minute, m)
	s := pvSeries(1, 2, 3)

	cfg := anomaly.DefaultConfig("double")
	cfg.Extractors = map[anomaly.MetricKey]anomaly.Extractor{
		"double": func(p anomaly.DataPoint) (float64, bool) {
			v, ok := p.Values["pv"]
			return 2 * v, ok
		},
	}

	for i := 0; i < 2; i++ {
		_, err := a.Analyze(context.Background(), s, cfg)
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(cache.BackendMemory)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues(cache.BackendMemory)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Computations.WithLabelValues(ResultOK)))
}

func TestAnalyzer_AnalyzeSource(t *testing.T) {
	a := NewAnalyzer(nil, 0, nil)
	src := series.NewReaderSource("inline", strings.NewReader(`[{"name":"a","pv":1},{"name":"b","pv":1}]`), series.FormatJSON)

	points, result, err := a.AnalyzeSource(context.Background(), src, anomaly.DefaultConfig("pv"))
	require.NoError(t, err)
	assert.Equal(t, "b", points[1].Label)
	assert.Equal(t, 2, result.Length)
	assert.False(t, result.HasAnomalies())

	bad := series.NewReaderSource("broken", strings.NewReader(`{`), series.FormatJSON)
	_, _, err = a.AnalyzeSource(context.Background(), bad, anomaly.DefaultConfig("pv"))
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Contains(t, srcErr.Error(), "broken")
}
