package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sawpanic/anomscan/internal/anomaly"
	"github.com/sawpanic/anomscan/internal/application"
)

// Error kinds reported in ErrorResponse.Kind
const (
	KindConfiguration = "configuration"
	KindSource        = "source"
	KindRequest       = "request"
	KindRateLimit     = "rate_limit"
	KindInternal      = "internal"
)

// AnomalyRequest is the body of POST /v1/anomalies and of every websocket
// message. Omitted keys, threshold and edges fall back to server defaults.
type AnomalyRequest struct {
	Series    json.RawMessage     `json:"series"`
	Keys      []anomaly.MetricKey `json:"keys,omitempty"`
	Threshold *float64            `json:"threshold,omitempty"`
	Edges     *bool               `json:"edges,omitempty"`
}

// AnomalyResponse is the result plus request metadata
type AnomalyResponse struct {
	*anomaly.Result
	Warnings  []string `json:"warnings,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// ErrorResponse is returned for every failed request
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

// config merges the request with the server defaults
func (req *AnomalyRequest) config(defaults anomaly.Config) anomaly.Config {
	cfg := anomaly.Config{
		Keys:      defaults.Keys,
		Threshold: defaults.Threshold,
		Edges:     defaults.Edges,
	}
	if len(req.Keys) > 0 {
		cfg.Keys = req.Keys
	}
	if req.Threshold != nil {
		cfg.Threshold = *req.Threshold
	}
	if req.Edges != nil {
		cfg.Edges = *req.Edges
	}
	return cfg
}

func newAnomalyResponse(result *anomaly.Result, requestID string) AnomalyResponse {
	resp := AnomalyResponse{Result: result, RequestID: requestID}
	for _, w := range result.Warnings {
		resp.Warnings = append(resp.Warnings, w.Error())
	}
	return resp
}

// classify maps an error to its HTTP status and kind
func classify(err error) (int, string) {
	var srcErr *application.SourceError
	switch {
	case errors.Is(err, anomaly.ErrConfiguration):
		return http.StatusBadRequest, KindConfiguration
	case errors.As(err, &srcErr):
		return http.StatusUnprocessableEntity, KindSource
	default:
		return http.StatusInternalServerError, KindInternal
	}
}
