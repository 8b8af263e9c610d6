package handlers

import (
	"net/http"
	"time"

	"github.com/y3dhub/api/internal/repositories"
)

var startTime = time.Now()

// HealthHandlers serves liveness and readiness probes. Readiness pings the
// persistence layer; liveness never touches dependencies.
type HealthHandlers struct {
	health repositories.HealthRepository
}

// NewHealthHandlers constructs health handlers. A nil repository makes
// readiness always succeed, which suits tests and local runs.
func NewHealthHandlers(health repositories.HealthRepository) *HealthHandlers {
	return &HealthHandlers{health: health}
}

// Healthz responds with a simple status payload for monitoring.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz verifies the service can reach its dependencies.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ok"})
}
