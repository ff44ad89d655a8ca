package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/anomscan/internal/anomaly"
	"github.com/sawpanic/anomscan/internal/application"
	"github.com/sawpanic/anomscan/internal/series"
)

// maxBodyBytes bounds request bodies and websocket messages
const maxBodyBytes = 8 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || isLocalOrigin(origin)
	},
}

// handleAnomalies serves POST /v1/anomalies
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	var req AnomalyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, KindRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	result, err := s.analyze(r.Context(), &req)
	if err != nil {
		status, kind := classify(err)
		writeError(w, r, status, kind, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, newAnomalyResponse(result, requestID(r.Context())))
}

// handleWebSocket serves GET /v1/ws. Every text message is one request and
// gets exactly one response, computed from scratch.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	s.metrics.WSSessions.Inc()
	defer s.metrics.WSSessions.Dec()

	session := requestID(r.Context())
	client := clientAddr(r)
	log.Debug().Str("session", session).Str("remote", client).Msg("Websocket session opened")

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("session", session).Msg("Websocket closed unexpectedly")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if err := conn.WriteJSON(s.answer(r.Context(), session, client, msg)); err != nil {
			log.Warn().Err(err).Str("session", session).Msg("Websocket write failed")
			return
		}
	}
}

// answer turns one websocket message into its reply. Every message draws
// from the same per-client bucket as a POST.
func (s *Server) answer(parent context.Context, session, client string, msg []byte) interface{} {
	start := time.Now()
	if s.limiter != nil && !s.limiter.Allow(client) {
		s.metrics.RecordHTTPRequest("/v1/ws", http.StatusTooManyRequests, time.Since(start))
		return ErrorResponse{Error: "rate limit exceeded", Kind: KindRateLimit, RequestID: session}
	}

	ctx, cancel := context.WithTimeout(parent, s.requestTimeout())
	defer cancel()

	var req AnomalyRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return ErrorResponse{Error: fmt.Sprintf("invalid message: %v", err), Kind: KindRequest, RequestID: session}
	}

	result, err := s.analyze(ctx, &req)
	if err != nil {
		status, kind := classify(err)
		s.metrics.RecordHTTPRequest("/v1/ws", status, time.Since(start))
		return ErrorResponse{Error: err.Error(), Kind: kind, RequestID: session}
	}
	s.metrics.RecordHTTPRequest("/v1/ws", http.StatusOK, time.Since(start))
	return newAnomalyResponse(result, session)
}

// analyze decodes the inline series and runs it through the analyzer
func (s *Server) analyze(ctx context.Context, req *AnomalyRequest) (*anomaly.Result, error) {
	var points anomaly.Series
	raw := bytes.TrimSpace(req.Series)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		decoded, err := series.DecodeBytes(raw, series.FormatJSON)
		if err != nil {
			return nil, &application.SourceError{Source: "request series", Err: err}
		}
		points = decoded
	}
	return s.analyzer.Analyze(ctx, points, req.config(s.defaults))
}

func (s *Server) requestTimeout() time.Duration {
	if s.config.RequestTimeout > 0 {
		return s.config.RequestTimeout
	}
	return 5 * time.Second
}

// handleNotFound returns a JSON 404
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, KindRequest, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind, RequestID: requestID(r.Context())})
}
