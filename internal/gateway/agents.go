package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/agentd/internal/agent"
	"github.com/flemzord/agentd/internal/history"
	"github.com/flemzord/agentd/internal/store"
)

// patchRequest is the JSON body for PATCH /api/agents/{id}. Absent fields
// are left untouched. Bookkeeping fields are not patchable over the API.
type patchRequest struct {
	Name           *string            `json:"name,omitempty"`
	Description    *string            `json:"description,omitempty"`
	Instructions   *string            `json:"instructions,omitempty"`
	Schedule       *agent.Schedule    `json:"schedule,omitempty"`
	ToolGroups     *[]string          `json:"toolGroups,omitempty"`
	MaxRunsPerHour *int               `json:"maxRunsPerHour,omitempty"`
	Permissions    *agent.Permissions `json:"permissions,omitempty"`
	Status         *agent.Status      `json:"status,omitempty"`
}

func (p patchRequest) toPatch() agent.Patch {
	return agent.Patch{
		Name:           p.Name,
		Description:    p.Description,
		Instructions:   p.Instructions,
		Schedule:       p.Schedule,
		ToolGroups:     p.ToolGroups,
		MaxRunsPerHour: p.MaxRunsPerHour,
		Permissions:    p.Permissions,
		Status:         p.Status,
	}
}

// handleListAgents returns the caller's agents, optionally filtered by
// ?status=.
func (g *Gateway) handleListAgents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.ListFilter{Status: agent.Status(r.URL.Query().Get("status"))}
		if filter.Status != "" && !agent.ValidStatus(filter.Status) {
			writeError(w, http.StatusBadRequest, "unknown status filter: "+string(filter.Status))
			return
		}

		agents, err := g.store.List(requestUser(r), filter)
		if err != nil {
			g.writeDomainError(w, err)
			return
		}
		if agents == nil {
			agents = []*agent.Agent{}
		}
		writeJSON(w, http.StatusOK, agents)
	}
}

// handleCreateAgent creates an agent and schedules it if active.
func (g *Gateway) handleCreateAgent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var def agent.Agent
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}

		created, err := g.store.Create(requestUser(r), &def)
		if err != nil {
			g.writeDomainError(w, err)
			return
		}

		if created.Status == agent.StatusActive {
			if err := g.jobs.ScheduleAgent(created); err != nil {
				g.logger.Error("gateway: scheduling created agent failed", "agent", created.ID, "error", err)
			}
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (g *Gateway) handleGetAgent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := g.store.Get(requestUser(r), chi.URLParam(r, "id"))
		if err != nil {
			g.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// handleUpdateAgent patches an agent definition and realigns its cron
// registration with the new state.
func (g *Gateway) handleUpdateAgent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req patchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}

		updated, err := g.store.Update(requestUser(r), chi.URLParam(r, "id"), req.toPatch())
		if err != nil {
			g.writeDomainError(w, err)
			return
		}

		g.resync(updated)
		writeJSON(w, http.StatusOK, updated)
	}
}

// handleDeleteAgent removes an agent, its schedule, and its run history.
func (g *Gateway) handleDeleteAgent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, id := requestUser(r), chi.URLParam(r, "id")

		// Ownership check before any side effect.
		if _, err := g.store.Get(userID, id); err != nil {
			g.writeDomainError(w, err)
			return
		}

		g.jobs.UnscheduleAgent(id)
		if err := g.history.DeleteAgentHistory(id); err != nil {
			g.logger.Error("gateway: deleting run history failed", "agent", id, "error", err)
		}
		if err := g.store.Delete(userID, id); err != nil {
			g.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// statusRequest is the JSON body for POST /api/agents/{id}/status.
type statusRequest struct {
	Status agent.Status `json:"status"`
}

// handleToggleStatus pauses or resumes an agent.
func (g *Gateway) handleToggleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
		if req.Status != agent.StatusActive && req.Status != agent.StatusPaused {
			writeError(w, http.StatusBadRequest, "status must be active or paused")
			return
		}

		updated, err := g.store.ToggleStatus(requestUser(r), chi.URLParam(r, "id"), req.Status)
		if err != nil {
			g.writeDomainError(w, err)
			return
		}

		g.resync(updated)
		writeJSON(w, http.StatusOK, updated)
	}
}

// runResponse is the JSON body for POST /api/agents/{id}/run.
type runResponse struct {
	Executed   bool   `json:"executed"`
	SkipReason string `json:"skipReason,omitempty"`
	RunID      string `json:"runId,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// handleRunAgent fires the agent immediately. Manual runs bypass the rate
// limit but still respect mutual exclusion.
func (g *Gateway) handleRunAgent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := g.store.Get(requestUser(r), id); err != nil {
			g.writeDomainError(w, err)
			return
		}

		res := g.jobs.TriggerAgent(r.Context(), id)

		resp := runResponse{Executed: res.Executed, SkipReason: res.SkipReason}
		if res.Run != nil {
			resp.RunID = res.Run.ID
			resp.Status = string(res.Run.Status)
		}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}

		status := http.StatusOK
		if !res.Executed && res.SkipReason != "" {
			status = http.StatusConflict
		}
		writeJSON(w, status, resp)
	}
}

// handleListRuns returns recent runs, newest first. ?limit= caps the
// count.
func (g *Gateway) handleListRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := g.store.Get(requestUser(r), id); err != nil {
			g.writeDomainError(w, err)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		runs, err := g.history.GetRunHistory(id, limit)
		if err != nil {
			g.writeDomainError(w, err)
			return
		}
		if runs == nil {
			runs = []*history.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// handleRunStats returns aggregate run statistics for one agent.
func (g *Gateway) handleRunStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := g.store.Get(requestUser(r), id); err != nil {
			g.writeDomainError(w, err)
			return
		}

		stats, err := g.history.GetRunStats(id)
		if err != nil {
			g.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// resync aligns the cron registration with the agent's current state.
func (g *Gateway) resync(a *agent.Agent) {
	if a.Status == agent.StatusActive {
		if err := g.jobs.RescheduleAgent(a); err != nil {
			g.logger.Error("gateway: rescheduling agent failed", "agent", a.ID, "error", err)
		}
		return
	}
	g.jobs.UnscheduleAgent(a.ID)
}
