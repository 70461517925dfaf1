package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/agentd/internal/trigger"
)

func (g *Gateway) handleListTriggers() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		triggers := g.triggers.List()
		if triggers == nil {
			triggers = []trigger.Trigger{}
		}
		writeJSON(w, http.StatusOK, triggers)
	}
}

func (g *Gateway) handleRegisterTrigger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t trigger.Trigger
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}

		if err := g.triggers.Register(t); err != nil {
			if errors.Is(err, trigger.ErrDuplicateTrigger) {
				g.writeDomainError(w, err)
				return
			}
			// Everything else Register reports is a malformed definition.
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func (g *Gateway) handleUnregisterTrigger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.triggers.Unregister(chi.URLParam(r, "id")); err != nil {
			g.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
