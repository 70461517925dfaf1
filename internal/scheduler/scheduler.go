// Package scheduler owns the mapping from agent to cron registration. It
// validates expressions, computes next-fire times, guarantees at most one
// in-flight execution per agent, applies the hourly rate limit, and runs
// startup catch-up for agents that missed a fire while the process was
// down. It never touches agent state directly beyond next-run bookkeeping;
// execution always goes through the injected executor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/agentd/internal/agent"
	"github.com/flemzord/agentd/internal/executor"
	"github.com/flemzord/agentd/internal/history"
	"github.com/flemzord/agentd/internal/telemetry"
)

// DefaultCatchupDelay separates serialized catch-up runs after startup.
const DefaultCatchupDelay = 5 * time.Second

// catchupHorizon: agents whose next regular fire is at most this far away
// never catch up; the imminent fire makes a catch-up run redundant.
const catchupHorizon = time.Hour

// Trigger names passed through to run records.
const (
	TriggerCron    = "cron"
	TriggerManual  = "manual"
	TriggerCatchup = "catchup"
	TriggerWebhook = "webhook"
	TriggerChain   = "chain"
)

// Skip reasons reported in Result.
const (
	SkipAlreadyRunning = "already_running"
	SkipNotActive      = "not_active"
	SkipRateLimit      = "rate_limit"
)

// ErrNotActive indicates an attempt to schedule a non-active agent.
var ErrNotActive = errors.New("scheduler: agent is not active")

// AgentStore is the subset of the store the scheduler needs.
type AgentStore interface {
	GetByID(id string) (*agent.Agent, error)
	GetAllActive() ([]*agent.Agent, error)
	UpdateStats(id string, patch agent.Patch) (*agent.Agent, error)
}

// Runner executes one agent with the retry policy applied.
type Runner interface {
	ExecuteWithRetry(ctx context.Context, a *agent.Agent, trigger string) executor.Result
}

// Result is the outcome of one trigger, executed or skipped.
type Result struct {
	Executed   bool
	SkipReason string
	Run        *history.Run
	Err        error
}

// Scheduler manages cron registrations and execution guards.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	running map[string]struct{}
	windows map[string]*rateWindow

	store        AgentStore
	runner       Runner
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	catchupDelay time.Duration
	now          func() time.Time

	// onComplete is invoked after every executed run, success or not.
	// Wired to the trigger router for chain triggers.
	onComplete func(agentID string, res Result)

	runCtx context.Context
	cancel context.CancelFunc
}

// Options configures a Scheduler.
type Options struct {
	Store        AgentStore
	Runner       Runner
	Logger       *slog.Logger
	Metrics      *telemetry.Metrics
	CatchupDelay time.Duration
}

// New creates a Scheduler. Call Start before scheduling.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := opts.CatchupDelay
	if delay <= 0 {
		delay = DefaultCatchupDelay
	}
	return &Scheduler{
		entries:      make(map[string]cron.EntryID),
		running:      make(map[string]struct{}),
		windows:      make(map[string]*rateWindow),
		store:        opts.Store,
		runner:       opts.Runner,
		logger:       logger,
		metrics:      opts.Metrics,
		catchupDelay: delay,
		now:          time.Now,
	}
}

// SetOnComplete registers the completion hook. Must be called before
// Start.
func (s *Scheduler) SetOnComplete(fn func(agentID string, res Result)) {
	s.onComplete = fn
}

// Start begins the cron runner. Fires execute until Stop or ctx cancel.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	s.cron.Start()
	s.logger.Info("scheduler: started")
}

// Stop cancels in-flight run contexts and waits for the cron runner. The
// wait happens outside the lock: a finishing run must reacquire it to
// leave the running set, so holding it here would stall every in-flight
// fire until the caller's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return fmt.Errorf("scheduler: shutdown interrupted: %w", ctx.Err())
		}
		s.logger.Info("scheduler: stopped")
	}
	return nil
}

// Initialize loads every active agent across users, schedules each, and
// asynchronously runs one catch-up execution per agent whose next fire
// was missed while the process was down — never one per missed interval.
func (s *Scheduler) Initialize() error {
	agents, err := s.store.GetAllActive()
	if err != nil {
		return fmt.Errorf("scheduler: loading active agents: %w", err)
	}

	now := s.now().UTC()
	var missed []string
	for _, a := range agents {
		wasMissed := a.NextRunAt != nil && a.NextRunAt.Before(now)
		if err := s.ScheduleAgent(a); err != nil {
			s.logger.Error("scheduler: scheduling agent failed", "agent", a.ID, "error", err)
			continue
		}
		if wasMissed && s.shouldCatchUp(a, now) {
			missed = append(missed, a.ID)
		}
	}
	s.logger.Info("scheduler: initialized", "agents", len(agents), "missed", len(missed))

	if len(missed) > 0 {
		go s.catchUp(missed)
	}
	return nil
}

// shouldCatchUp applies the catch-up policy: if the next regular fire is
// imminent (within the horizon), a catch-up run adds nothing.
func (s *Scheduler) shouldCatchUp(a *agent.Agent, now time.Time) bool {
	next, err := NextRun(a.Schedule, now)
	if err != nil {
		return false
	}
	return next.Sub(now) > catchupHorizon
}

// catchUp executes missed agents serialized with a short delay between
// them, so a long outage does not produce a thundering herd.
func (s *Scheduler) catchUp(ids []string) {
	s.logger.Info("scheduler: starting catch-up", "agents", len(ids))
	for i, id := range ids {
		if i > 0 {
			select {
			case <-time.After(s.catchupDelay):
			case <-s.runCtx.Done():
				return
			}
		}
		res := s.ExecuteAgent(s.runCtx, id, TriggerCatchup)
		if res.Err != nil {
			s.logger.Warn("scheduler: catch-up run failed", "agent", id, "error", res.Err)
		}
	}
}

// ValidateCron checks an expression and returns its next fire time in UTC.
func (s *Scheduler) ValidateCron(expr string) (time.Time, error) {
	return NextRun(agent.Schedule{Cron: expr}, s.now().UTC())
}

// ScheduleAgent registers an active agent's cron, replacing any prior
// registration for the same id, and persists the recomputed next-run
// time.
func (s *Scheduler) ScheduleAgent(a *agent.Agent) error {
	if a.Status != agent.StatusActive {
		return fmt.Errorf("%w: %s", ErrNotActive, a.ID)
	}
	next, err := NextRun(a.Schedule, s.now().UTC())
	if err != nil {
		return err
	}

	s.mu.Lock()
	if old, ok := s.entries[a.ID]; ok {
		s.cron.Remove(old)
	}
	id := a.ID
	entryID, err := s.cron.AddFunc(cronSpec(a.Schedule), func() {
		s.fire(id)
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: registering %s: %w", a.ID, err)
	}
	s.entries[a.ID] = entryID
	s.metrics.SetScheduled(len(s.entries))
	s.mu.Unlock()

	if _, err := s.store.UpdateStats(a.ID, agent.Patch{NextRunAt: &next}); err != nil {
		s.logger.Warn("scheduler: persisting next run failed", "agent", a.ID, "error", err)
	}
	s.logger.Info("scheduler: agent scheduled", "agent", a.ID, "cron", a.Schedule.Cron, "next_run", next)
	return nil
}

// UnscheduleAgent removes the agent's cron registration, if any.
func (s *Scheduler) UnscheduleAgent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
		s.metrics.SetScheduled(len(s.entries))
		s.logger.Info("scheduler: agent unscheduled", "agent", id)
	}
}

// RescheduleAgent re-registers after a schedule change.
func (s *Scheduler) RescheduleAgent(a *agent.Agent) error {
	s.UnscheduleAgent(a.ID)
	return s.ScheduleAgent(a)
}

// fire is the cron callback. Each fire runs in its own goroutine (the
// cron runner's behavior), so independent agents execute concurrently.
func (s *Scheduler) fire(id string) {
	res := s.ExecuteAgent(s.runCtx, id, TriggerCron)
	if res.Err != nil {
		// Never let an execution error escape to the cron timer.
		s.logger.Warn("scheduler: cron run failed", "agent", id, "error", res.Err)
	}
}

// TriggerAgent runs an agent manually: it bypasses the rate limit but
// still respects the single-concurrency guard.
func (s *Scheduler) TriggerAgent(ctx context.Context, id string) Result {
	return s.ExecuteAgent(ctx, id, TriggerManual)
}

// ExecuteAgent re-reads the agent fresh from the store, applies the
// guards, runs it through the executor's retry policy, and recomputes the
// next fire time. Triggers arriving while a run is in flight are dropped,
// never queued.
func (s *Scheduler) ExecuteAgent(ctx context.Context, id, trigger string) Result {
	a, err := s.store.GetByID(id)
	if err != nil {
		return Result{Err: err}
	}
	if a.Status != agent.StatusActive {
		s.logger.Debug("scheduler: agent not active, skipping", "agent", id, "status", a.Status)
		return Result{SkipReason: SkipNotActive}
	}

	s.mu.Lock()
	if _, inFlight := s.running[id]; inFlight {
		s.mu.Unlock()
		s.logger.Info("scheduler: agent already running, skipping trigger", "agent", id, "trigger", trigger)
		s.metrics.RecordConcurrencySkip()
		return Result{SkipReason: SkipAlreadyRunning}
	}
	if trigger != TriggerManual {
		w := s.window(id)
		now := s.now()
		if !w.allow(now, a.MaxRunsPerHour) {
			s.mu.Unlock()
			s.logger.Info("scheduler: rate limit reached, skipping trigger",
				"agent", id, "trigger", trigger, "max_runs_per_hour", a.MaxRunsPerHour)
			s.metrics.RecordRateLimitSkip()
			return Result{SkipReason: SkipRateLimit}
		}
		w.record(now)
	}
	s.running[id] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	s.metrics.RunStarted()
	defer s.metrics.RunFinished()

	execRes := s.runner.ExecuteWithRetry(ctx, a, trigger)
	s.recomputeNextRun(a)

	res := Result{Executed: true, Run: execRes.Run, Err: execRes.Err}
	if s.onComplete != nil {
		s.onComplete(id, res)
	}
	return res
}

// recomputeNextRun persists the next fire strictly after now, called
// after every completed execution attempt.
func (s *Scheduler) recomputeNextRun(a *agent.Agent) {
	next, err := NextRun(a.Schedule, s.now().UTC())
	if err != nil {
		s.logger.Warn("scheduler: next-run computation failed", "agent", a.ID, "error", err)
		return
	}
	if _, err := s.store.UpdateStats(a.ID, agent.Patch{NextRunAt: &next}); err != nil {
		s.logger.Warn("scheduler: persisting next run failed", "agent", a.ID, "error", err)
	}
}

// window returns the rate window for an agent. Callers must hold s.mu.
func (s *Scheduler) window(id string) *rateWindow {
	w, ok := s.windows[id]
	if !ok {
		w = &rateWindow{}
		s.windows[id] = w
	}
	return w
}

// AgentState is one agent's scheduling snapshot.
type AgentState struct {
	AgentID   string `json:"agentId"`
	Scheduled bool   `json:"scheduled"`
	Running   bool   `json:"running"`
}

// Status is the scheduler's point-in-time view.
type Status struct {
	TotalJobs   int          `json:"totalJobs"`
	RunningJobs int          `json:"runningJobs"`
	Jobs        []AgentState `json:"jobs"`
}

// GetStatus reports registration and running state per agent.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]struct{}, len(s.entries)+len(s.running))
	for id := range s.entries {
		ids[id] = struct{}{}
	}
	for id := range s.running {
		ids[id] = struct{}{}
	}

	status := Status{
		TotalJobs:   len(s.entries),
		RunningJobs: len(s.running),
	}
	for id := range ids {
		_, scheduled := s.entries[id]
		_, running := s.running[id]
		status.Jobs = append(status.Jobs, AgentState{AgentID: id, Scheduled: scheduled, Running: running})
	}
	sort.Slice(status.Jobs, func(i, j int) bool { return status.Jobs[i].AgentID < status.Jobs[j].AgentID })
	return status
}
