package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/agentd/internal/scheduler"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Scheduler     scheduler.Status `json:"scheduler"`
	Triggers      int              `json:"triggers"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Version:       g.version,
			UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
			Scheduler:     g.jobs.GetStatus(),
			Triggers:      len(g.triggers.List()),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
