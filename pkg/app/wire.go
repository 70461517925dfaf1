package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/flemzord/agentd/internal/config"
	"github.com/flemzord/agentd/internal/engine/remote"
	"github.com/flemzord/agentd/internal/executor"
	"github.com/flemzord/agentd/internal/gateway"
	"github.com/flemzord/agentd/internal/history"
	"github.com/flemzord/agentd/internal/scheduler"
	"github.com/flemzord/agentd/internal/store"
	"github.com/flemzord/agentd/internal/telemetry"
	"github.com/flemzord/agentd/internal/toolgroup"
	"github.com/flemzord/agentd/internal/trigger"
)

// historyCleanupSpec fires the retention job once a day, off-peak.
const historyCleanupSpec = "17 3 * * *"

// chainFireTimeout bounds one chain-triggered execution, retries
// included.
const chainFireTimeout = 30 * time.Minute

// App holds the wired component graph.
type App struct {
	config       *config.Config
	logger       *slog.Logger
	store        *store.Store
	history      *history.History
	scheduler    *scheduler.Scheduler
	triggers     *trigger.Router
	gateway      *gateway.Gateway
	housekeeping *cron.Cron
	cancel       context.CancelFunc
}

// buildApp constructs every component and wires them together. Nothing is
// started yet.
func buildApp(cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.InitMetrics(registry)

	st, err := store.Open(store.Options{
		AgentsRoot:     cfg.Storage.AgentsRoot,
		WorkspacesRoot: cfg.Storage.WorkspacesRoot,
		CronCheck:      scheduler.ValidateExpr,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: opening agent store: %w", err)
	}

	hist, err := history.Open(cfg.Storage.RunsRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("app: opening run history: %w", err)
	}

	groups := toolgroup.NewRegistry(cfg.ToolGroups)

	eng := remote.New(remote.Options{
		Endpoint: cfg.Engine.Endpoint,
		APIKey:   cfg.Engine.APIKey,
		Logger:   logger,
	})

	exec := executor.New(executor.Options{
		Engine:  eng,
		Store:   st,
		History: hist,
		Groups:  groups,
		Config: executor.Config{
			Timeout:        cfg.Executor.Timeout,
			ToolCallLimit:  cfg.Executor.ToolCallLimit,
			MaxAttempts:    cfg.Executor.MaxAttempts,
			RetryBaseDelay: cfg.Executor.RetryBaseDelay,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	sched := scheduler.New(scheduler.Options{
		Store:        st,
		Runner:       exec,
		Logger:       logger,
		Metrics:      metrics,
		CatchupDelay: cfg.Scheduler.CatchupDelay,
	})

	triggers := trigger.NewRouter(trigger.Options{
		Runner:  sched,
		Logger:  logger,
		Metrics: metrics,
	})

	gw := gateway.New(gateway.Options{
		Config:   cfg.Gateway,
		Store:    st,
		History:  hist,
		Jobs:     sched,
		Triggers: triggers,
		Gatherer: registry,
		Metrics:  metrics,
		Logger:   logger,
		Version:  version,
	})

	app := &App{
		config:    cfg,
		logger:    logger,
		store:     st,
		history:   hist,
		scheduler: sched,
		triggers:  triggers,
		gateway:   gw,
	}

	// Agent completions feed chain triggers. The scheduler invokes the
	// hook while the agent still counts as running, so an agent chained
	// to itself cannot loop.
	sched.SetOnComplete(func(agentID string, res scheduler.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), chainFireTimeout)
		defer cancel()
		triggers.NotifyAgentComplete(ctx, agentID, res)
	})

	if days := cfg.Scheduler.HistoryDaysToKeep; days > 0 {
		app.housekeeping = cron.New()
		_, err := app.housekeeping.AddFunc(historyCleanupSpec, func() {
			removed, err := hist.Cleanup(days)
			if err != nil {
				logger.Error("app: run history cleanup failed", "error", err)
				return
			}
			logger.Info("app: run history cleanup", "removed", removed, "days_kept", days)
		})
		if err != nil {
			return nil, fmt.Errorf("app: scheduling history cleanup: %w", err)
		}
	}

	return app, nil
}

// Start brings the scheduler, housekeeping, and gateway online and
// registers every active agent.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.scheduler.Start(runCtx)
	if err := a.scheduler.Initialize(); err != nil {
		cancel()
		return fmt.Errorf("app: initializing scheduler: %w", err)
	}
	if a.housekeeping != nil {
		a.housekeeping.Start()
	}
	if err := a.gateway.Start(runCtx); err != nil {
		cancel()
		return err
	}
	return nil
}

// Stop shuts components down in reverse order: stop accepting requests,
// then wait for in-flight runs.
func (a *App) Stop(ctx context.Context) {
	if err := a.gateway.Stop(ctx); err != nil {
		a.logger.Error("app: gateway shutdown failed", "error", err)
	}
	if a.housekeeping != nil {
		<-a.housekeeping.Stop().Done()
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.Error("app: scheduler shutdown failed", "error", err)
	}
	if a.cancel != nil {
		a.cancel()
	}
}
