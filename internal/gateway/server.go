package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	if g.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	}

	// Webhooks — own per-source HMAC auth.
	r.Post("/webhooks/{source}", g.handleWebhook())

	// Management API — bearer auth. Not mounted if no token configured.
	if g.config.AuthToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.AuthToken))
			r.Get("/status", g.handleStatus())
			r.Route("/api", func(r chi.Router) {
				r.Route("/agents", func(r chi.Router) {
					r.Use(requireUser)
					r.Get("/", g.handleListAgents())
					r.Post("/", g.handleCreateAgent())
					r.Get("/{id}", g.handleGetAgent())
					r.Patch("/{id}", g.handleUpdateAgent())
					r.Delete("/{id}", g.handleDeleteAgent())
					r.Post("/{id}/status", g.handleToggleStatus())
					r.Post("/{id}/run", g.handleRunAgent())
					r.Get("/{id}/runs", g.handleListRuns())
					r.Get("/{id}/stats", g.handleRunStats())
				})
				r.Route("/triggers", func(r chi.Router) {
					r.Get("/", g.handleListTriggers())
					r.Post("/", g.handleRegisterTrigger())
					r.Delete("/{id}", g.handleUnregisterTrigger())
				})
			})
		})
	}

	return r
}
