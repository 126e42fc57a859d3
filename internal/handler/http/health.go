package http

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"director/internal/handler/http/respond"
	"director/internal/lifecycle"
)

// StatusSource reports the lifecycle state of registered components.
// *lifecycle.Application implements it.
type StatusSource interface {
	Names() []string
	State(name string) (lifecycle.State, bool)
	Ready() bool
}

// HealthResponse represents the JSON response for health check endpoints.
type HealthResponse struct {
	Status     string                 `json:"status"`    // "healthy" or "unhealthy"
	Timestamp  string                 `json:"timestamp"` // ISO 8601 format
	Components map[string]string      `json:"components"`
	Checks     map[string]CheckStatus `json:"checks,omitempty"`
	Version    string                 `json:"version"`
}

// CheckStatus represents the status of a single health check.
type CheckStatus struct {
	Status  string                 `json:"status"`            // "healthy", "degraded" or "unhealthy"
	Message string                 `json:"message,omitempty"` // Optional status message
	Details map[string]interface{} `json:"details,omitempty"` // Optional additional details
}

// HealthHandler reports component states and, when DB is set, database
// connectivity with pool statistics.
// Returns 200 OK when every component is running and every check passes,
// 503 Service Unavailable otherwise.
type HealthHandler struct {
	Status  StatusSource
	DB      *sql.DB
	Version string
}

// ServeHTTP performs health checks and returns the application health status.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := h.Status == nil || h.Status.Ready()

	components := make(map[string]string)
	if h.Status != nil {
		for _, name := range h.Status.Names() {
			if state, ok := h.Status.State(name); ok {
				components[name] = state.String()
			}
		}
	}

	var checks map[string]CheckStatus
	if h.DB != nil {
		dbCheck := checkDatabase(ctx, h.DB)
		checks = map[string]CheckStatus{"database": dbCheck}
		if dbCheck.Status == "unhealthy" {
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.JSON(w, code, HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
		Checks:     checks,
		Version:    h.Version,
	})
}

// checkDatabase checks database connectivity and returns connection pool statistics.
func checkDatabase(ctx context.Context, db *sql.DB) CheckStatus {
	if err := db.PingContext(ctx); err != nil {
		return CheckStatus{Status: "unhealthy", Message: respond.SanitizeError(err)}
	}

	stats := db.Stats()
	details := map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}

	// Guard against zero division when MaxOpenConnections is 0 (unlimited)
	if stats.MaxOpenConnections == 0 {
		return CheckStatus{Status: "healthy", Details: details}
	}

	utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	details["utilization_percent"] = utilization
	if utilization >= 80.0 {
		return CheckStatus{
			Status:  "degraded",
			Message: "connection pool utilization above 80%",
			Details: details,
		}
	}
	return CheckStatus{Status: "healthy", Details: details}
}

// ReadyHandler answers readiness probes: 200 once every component is running,
// 503 before that and again as soon as shutdown begins.
type ReadyHandler struct {
	Status StatusSource
}

// ServeHTTP reports readiness as plain text.
func (h *ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Status == nil || !h.Status.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	writeText(w, "ready")
}

// LiveHandler answers liveness probes. It always returns 200 OK while the
// process can serve requests.
type LiveHandler struct{}

// ServeHTTP performs a simple liveness check.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeText(w, "alive")
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Default().Warn("failed to write probe response", slog.Any("error", err))
	}
}
