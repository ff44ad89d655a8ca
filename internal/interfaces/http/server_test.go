package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/anomscan/internal/anomaly"
	"github.com/sawpanic/anomscan/internal/application"
	"github.com/sawpanic/anomscan/internal/cache"
	"github.com/sawpanic/anomscan/internal/config"
	"github.com/sawpanic/anomscan/internal/metrics"
)

const pageSeries = `[
	{"name":"Page A","pv":10,"uv":5},
	{"name":"Page B","pv":10,"uv":5},
	{"name":"Page C","pv":10,"uv":5},
	{"name":"Page D","pv":100,"uv":5}
]`

func newTestServer(t *testing.T, mutate func(*config.ServerConfig)) (*Server, *metrics.Registry) {
	t.Helper()
	cfg := config.DefaultConfig().Server
	cfg.RateLimitRPS = 0
	if mutate != nil {
		mutate(&cfg)
	}

	m := metrics.NewRegistry()
	c := cache.NewMemory()
	analyzer := application.NewAnalyzer(c, time.Minute, m)
	defaults := anomaly.DefaultConfig("pv")
	return NewServer(cfg, analyzer, defaults, NewHealthHandler(c, "test")), m
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/anomalies", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestAnomalies_DefaultKeys(t *testing.T) {
	s, m := newTestServer(t, nil)

	rr := post(t, s, `{"series":`+pageSeries+`}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var resp AnomalyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, 4, resp.Length)
	assert.Equal(t, anomaly.DefaultThreshold, resp.Threshold)
	assert.Equal(t, []anomaly.Segment{{Start: 3, End: 3}}, resp.Metrics["pv"].Segments)
	assert.Empty(t, resp.Warnings)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/anomalies", "OK")))
}

func TestAnomalies_RequestOverrides(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := post(t, s, `{"series":`+pageSeries+`,"keys":["pv","uv"],"threshold":2,"edges":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp AnomalyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []anomaly.MetricKey{"pv", "uv"}, resp.Keys)
	assert.Equal(t, 2.0, resp.Threshold)

	// |z| of the outlier is sqrt(3) ~ 1.73, under 2
	assert.Empty(t, resp.Metrics["pv"].Segments)
	assert.Empty(t, resp.Metrics["pv"].Edges)
	assert.Equal(t, []float64{0, 0, 0, 0}, []float64(resp.Metrics["uv"].ZScores))
}

func TestAnomalies_EmptySeriesWarns(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := post(t, s, `{"series":[]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp AnomalyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Length)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "empty series")

	rr = post(t, s, `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestAnomalies_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"malformed body", `{"series":`, http.StatusBadRequest, KindRequest},
		{"zero threshold", `{"series":` + pageSeries + `,"threshold":0}`, http.StatusBadRequest, KindConfiguration},
		{"negative threshold", `{"series":` + pageSeries + `,"threshold":-1}`, http.StatusBadRequest, KindConfiguration},
		{"missing key", `{"series":` + pageSeries + `,"keys":["amt"]}`, http.StatusBadRequest, KindConfiguration},
		{"non-numeric key", `{"series":[{"name":"a","pv":"high"}]}`, http.StatusBadRequest, KindConfiguration},
		{"nested value", `{"series":[{"name":"a","pv":{"x":1}}]}`, http.StatusUnprocessableEntity, KindSource},
		{"series not an array", `{"series":{"pv":1}}`, http.StatusUnprocessableEntity, KindSource},
	}

	s, _ := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := post(t, s, tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestAnomalies_RateLimited(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.ServerConfig) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})

	assert.Equal(t, http.StatusOK, post(t, s, `{"series":`+pageSeries+`}`).Code)

	rr := post(t, s, `{"series":`+pageSeries+`}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), KindRateLimit)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/anomalies", strings.NewReader(`{"series":[]}`))
	req.Header.Set("X-Request-ID", "abc123")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "abc123", rr.Header().Get("X-Request-ID"))
	assert.Contains(t, rr.Body.String(), `"request_id":"abc123"`)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "pass", resp.Checks["cache"].Status)
}

func TestHealth_OpenBreakerDegrades(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rc := cache.NewRedisWithClient(db, cache.Options{BreakerFailures: 1, BreakerTimeout: time.Minute})
	mock.ExpectGet("k").SetErr(assert.AnError)
	_, _, err := rc.Get(context.Background(), "k")
	require.Error(t, err)

	h := NewHealthHandler(rc, "test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "warn", resp.Checks["cache"].Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	post(t, s, `{"series":`+pageSeries+`}`)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "anomscan_computations_total")
	assert.Contains(t, rr.Body.String(), `anomscan_segments_total{key="pv"} 1`)
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/candidates", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), KindRequest)
}

func TestCORS_LocalOnly(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/anomalies", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/anomalies", nil)
	req.Header.Set("Origin", "https://example.com")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocket_OneResultPerMessage(t *testing.T) {
	s, m := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"series":`+pageSeries+`}`)))
	var first AnomalyResponse
	require.NoError(t, conn.ReadJSON(&first))
	require.NotNil(t, first.Result)
	assert.Equal(t, []anomaly.Segment{{Start: 3, End: 3}}, first.Metrics["pv"].Segments)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"series":[{"pv":1},{"pv":9},{"pv":1},{"pv":1}]}`)))
	var second AnomalyResponse
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, []anomaly.Segment{{Start: 1, End: 1}}, second.Metrics["pv"].Segments)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"series":[{"pv":1}],"threshold":-2}`)))
	var failed ErrorResponse
	require.NoError(t, conn.ReadJSON(&failed))
	assert.Equal(t, KindConfiguration, failed.Kind)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.ReadJSON(&failed))
	assert.Equal(t, KindRequest, failed.Kind)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSSessions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/ws", "OK")))
}

func TestWebSocket_MessagesAreRateLimited(t *testing.T) {
	s, m := newTestServer(t, func(c *config.ServerConfig) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 1
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"series":`+pageSeries+`}`)))
	var first AnomalyResponse
	require.NoError(t, conn.ReadJSON(&first))
	require.NotNil(t, first.Result)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"series":`+pageSeries+`}`)))
	var limited ErrorResponse
	require.NoError(t, conn.ReadJSON(&limited))
	assert.Equal(t, KindRateLimit, limited.Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/v1/ws", "Too Many Requests")))
}

func TestClientLimiter_EvictsIdleClients(t *testing.T) {
	l := newClientLimiter(10, 5)
	now := time.Now()
	l.now = func() time.Time { return now }

	for _, client := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		assert.True(t, l.Allow(client))
	}
	assert.Equal(t, 3, l.Len())

	now = now.Add(time.Minute)
	assert.True(t, l.Allow("10.0.0.1"))

	now = now.Add(defaultLimiterIdle)
	assert.True(t, l.Allow("10.0.0.4"))
	assert.Equal(t, 2, l.Len()) // 10.0.0.1 was seen within the idle window
}

func TestClientLimiter_IdleCoversRefill(t *testing.T) {
	l := newClientLimiter(0.001, 1)
	assert.GreaterOrEqual(t, l.idle, 1000*time.Second)

	l = newClientLimiter(20, 40)
	assert.Equal(t, defaultLimiterIdle, l.idle)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	header := http.Header{"Origin": []string{"https://example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
