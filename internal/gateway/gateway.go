// Package gateway exposes the HTTP management surface: agent CRUD, run
// history, manual triggers, trigger bindings, webhook ingress, status,
// health, and Prometheus metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/agentd/internal/agent"
	"github.com/flemzord/agentd/internal/config"
	"github.com/flemzord/agentd/internal/history"
	"github.com/flemzord/agentd/internal/scheduler"
	"github.com/flemzord/agentd/internal/store"
	"github.com/flemzord/agentd/internal/telemetry"
	"github.com/flemzord/agentd/internal/trigger"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// AgentStore is the subset of the agent store the gateway needs.
type AgentStore interface {
	Create(userID string, def *agent.Agent) (*agent.Agent, error)
	Get(userID, id string) (*agent.Agent, error)
	List(userID string, filter store.ListFilter) ([]*agent.Agent, error)
	Update(userID, id string, patch agent.Patch) (*agent.Agent, error)
	ToggleStatus(userID, id string, status agent.Status) (*agent.Agent, error)
	Delete(userID, id string) error
}

// RunHistory is the subset of the run history the gateway needs.
type RunHistory interface {
	GetRunHistory(agentID string, limit int) ([]*history.Run, error)
	GetRunStats(agentID string) (history.Stats, error)
	DeleteAgentHistory(agentID string) error
}

// Jobs is the scheduling surface the gateway drives.
type Jobs interface {
	TriggerAgent(ctx context.Context, id string) scheduler.Result
	ScheduleAgent(a *agent.Agent) error
	UnscheduleAgent(id string)
	RescheduleAgent(a *agent.Agent) error
	GetStatus() scheduler.Status
}

// TriggerRouter is the trigger registry the gateway manages and feeds.
type TriggerRouter interface {
	Register(t trigger.Trigger) error
	Unregister(id string) error
	List() []trigger.Trigger
	HandleWebhook(ctx context.Context, source, event string, payload json.RawMessage) []trigger.FireResult
}

// Gateway is the HTTP server. It is a leaf component: nothing imports it.
type Gateway struct {
	config    config.GatewayConfig
	store     AgentStore
	history   RunHistory
	jobs      Jobs
	triggers  TriggerRouter
	gatherer  prometheus.Gatherer
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	version   string
	server    *http.Server
	startedAt time.Time
}

// Options configures a Gateway.
type Options struct {
	Config   config.GatewayConfig
	Store    AgentStore
	History  RunHistory
	Jobs     Jobs
	Triggers TriggerRouter
	Gatherer prometheus.Gatherer
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	Version  string
}

// New creates a Gateway from the given options.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		config:   opts.Config,
		store:    opts.Store,
		history:  opts.History,
		jobs:     opts.Jobs,
		triggers: opts.Triggers,
		gatherer: opts.Gatherer,
		metrics:  opts.Metrics,
		logger:   logger,
		version:  opts.Version,
	}
}

// Start binds the listen address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", g.config.Bind, err)
	}

	go func() {
		g.logger.Info("gateway: listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: serve error", "error", err)
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	if err := g.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	return nil
}
