package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	cb "github.com/sony/gobreaker"

	"github.com/sawpanic/anomscan/internal/cache"
)

// breakerState is implemented by caches guarded by a circuit breaker
type breakerState interface {
	State() string
}

// HealthHandler provides system health status endpoint
type HealthHandler struct {
	cache     cache.Cache
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(c cache.Cache, version string) *HealthHandler {
	return &HealthHandler{
		cache:     c,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "degraded"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	System    SystemInfo             `json:"system"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status  string `json:"status"` // "pass", "warn"
	Message string `json:"message"`
}

// ServeHTTP implements the health check endpoint. A degraded cache still
// answers 200 since every request can be recomputed.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.gather()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *HealthHandler) gather() HealthResponse {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).String(),
		Version:   h.version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      memStats.Alloc,
			NumGC:         memStats.NumGC,
		},
		Checks: map[string]CheckResult{
			"engine": {Status: "pass", Message: "Engine ready"},
		},
	}

	if h.cache == nil {
		return response
	}

	check := CheckResult{Status: "pass", Message: "Cache backend " + h.cache.Name()}
	if b, ok := h.cache.(breakerState); ok {
		if state := b.State(); state != cb.StateClosed.String() {
			check = CheckResult{Status: "warn", Message: "Cache breaker " + state + ", serving without cache"}
			response.Status = "degraded"
		}
	}
	response.Checks["cache"] = check

	return response
}
