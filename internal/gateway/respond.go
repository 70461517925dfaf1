package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/flemzord/agentd/internal/agent"
	"github.com/flemzord/agentd/internal/scheduler"
	"github.com/flemzord/agentd/internal/store"
	"github.com/flemzord/agentd/internal/trigger"
)

// errorResponse is the JSON body for every error status.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain errors onto HTTP statuses.
func (g *Gateway) writeDomainError(w http.ResponseWriter, err error) {
	var verr *agent.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, trigger.ErrDuplicateTrigger):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, trigger.ErrUnknownTrigger):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		g.logger.Error("gateway: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
