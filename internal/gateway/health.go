package gateway

import "net/http"

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	RunningJobs int    `json:"running_jobs"`
}

// handleHealth returns an http.HandlerFunc for GET /health. The process
// serving requests is the health signal; no dependency probing.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:      "ok",
			RunningJobs: g.jobs.GetStatus().RunningJobs,
		})
	}
}
