package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker handles health check requests.
type HealthChecker struct {
	store  Pinger
	ledger Pinger
	queue  interface {
		HealthCheck(ctx context.Context) error
	}
}

// NewHealthChecker creates a health checker over the service's dependencies.
// Any of them may be nil, in which case the check is skipped.
func NewHealthChecker(store, ledger Pinger, queue interface {
	HealthCheck(ctx context.Context) error
}) *HealthChecker {
	return &HealthChecker{store: store, ledger: ledger, queue: queue}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles the /healthz endpoint. Basic mode reports liveness;
// mode=extended pings each dependency.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if r.URL.Query().Get("mode") != "extended" {
		respondJSON(w, http.StatusOK, response)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	if h.store != nil {
		checks["cache"] = checkResult(h.store.Ping(ctx))
	}
	if h.ledger != nil {
		checks["ledger"] = checkResult(h.ledger.Ping(ctx))
	}
	if h.queue != nil {
		checks["queue"] = checkResult(h.queue.HealthCheck(ctx))
	}
	response.Checks = checks

	status := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			break
		}
	}

	respondJSON(w, status, response)
}

func checkResult(err error) string {
	if err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}
