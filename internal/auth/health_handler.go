// health_handler.go -- Health check handler for GET /api/health.
package auth

import (
	"net/http"
	"time"
)

// CheckHealth handles GET /api/health -- pings Postgres and the session store, returns
// per-dependency status. Returns 200 if both are healthy, 503 if either is down.
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	sessionStatus := "ok"
	postgresStatus := "ok"

	if err := h.RS.CheckHealth(r.Context()); err != nil {
		logError(r, "session store health check failed", "error", err)
		sessionStatus = "error"
	}
	if h.PS == nil {
		postgresStatus = "disabled"
	} else if err := h.PS.CheckHealth(r.Context()); err != nil {
		logError(r, "postgres health check failed", "error", err)
		postgresStatus = "error"
	}

	status, overall := http.StatusOK, "ok"
	if sessionStatus == "error" || postgresStatus == "error" {
		status, overall = http.StatusServiceUnavailable, "degraded"
	}

	var uptime float64
	if !h.StartedAt.IsZero() {
		uptime = time.Since(h.StartedAt).Seconds()
	}
	writeJSON(w, status, struct {
		Status      string  `json:"status"`
		Postgres    string  `json:"postgres"`
		Sessions    string  `json:"sessions"`
		Uptime      float64 `json:"uptime"`
		Environment string  `json:"environment"`
	}{overall, postgresStatus, sessionStatus, uptime, h.AppEnv})
}
