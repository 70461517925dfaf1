// Package executor runs one scheduled agent to completion in unattended
// batch mode: it builds the effective instructions, pre-authorizes tools,
// drives the external engine, captures its event stream into structured
// actions, enforces the wall-clock timeout and tool-call ceiling,
// classifies the outcome, and folds the result into the agent's rolling
// memory. The whole sequence is wrapped in a bounded retry policy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/agentd/internal/agent"
	"github.com/flemzord/agentd/internal/engine"
	"github.com/flemzord/agentd/internal/history"
	"github.com/flemzord/agentd/internal/telemetry"
	"github.com/flemzord/agentd/internal/toolgroup"
)

// Default values for Config.
const (
	DefaultTimeout        = 5 * time.Minute
	DefaultToolCallLimit  = 60
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 2 * time.Second
)

// Config controls per-run limits and the retry policy.
type Config struct {
	// Timeout is the hard wall-clock budget for one engine run.
	Timeout time.Duration `yaml:"timeout"`

	// ToolCallLimit aborts the run the moment the engine exceeds it.
	// Independent of the timeout.
	ToolCallLimit int `yaml:"tool_call_limit"`

	// MaxAttempts is the total attempt count for ExecuteWithRetry.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ToolCallLimit <= 0 {
		c.ToolCallLimit = DefaultToolCallLimit
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	return c
}

// AgentStore is the subset of the agent store the executor needs.
type AgentStore interface {
	UpdateStats(id string, patch agent.Patch) (*agent.Agent, error)
}

// RunSaver is the subset of the run history the executor needs.
type RunSaver interface {
	SaveRun(run *history.Run) error
}

// GroupResolver resolves tool-group names to configurations.
type GroupResolver interface {
	Resolve(names []string) (found []toolgroup.Config, missing []string)
}

// Result is the outcome of one execution. The run record is always
// populated and persisted, success or not.
type Result struct {
	Success bool
	Run     *history.Run
	Err     error
}

// Executor runs agents against the external engine.
type Executor struct {
	engine  engine.Engine
	store   AgentStore
	history RunSaver
	groups  GroupResolver
	config  Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Options configures an Executor.
type Options struct {
	Engine  engine.Engine
	Store   AgentStore
	History RunSaver
	Groups  GroupResolver
	Config  Config
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// New creates an Executor from the given options.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		engine:  opts.Engine,
		store:   opts.Store,
		history: opts.History,
		groups:  opts.Groups,
		config:  opts.Config.withDefaults(),
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("agentd/executor"),
		now:     time.Now,
	}
}

// Execute runs the agent once. It never lets an error escape past its own
// boundary: every path resolves to a Result with a persisted run record.
func (e *Executor) Execute(ctx context.Context, a *agent.Agent, trigger string) Result {
	start := e.now().UTC()
	run := &history.Run{
		ID:        history.NewRunID(start),
		AgentID:   a.ID,
		Trigger:   trigger,
		StartedAt: start,
		Status:    history.RunRunning,
	}

	ctx, span := e.tracer.Start(ctx, "agentd.run",
		trace.WithAttributes(
			attribute.String("agent.id", a.ID),
			attribute.String("trigger", trigger),
		))
	defer span.End()

	groups, missing := e.groups.Resolve(a.ToolGroups)
	if len(missing) > 0 {
		// Graceful degradation: the engine still has generic capabilities.
		e.logger.Warn("executor: tool groups unavailable, continuing without them",
			"agent", a.ID, "missing", missing)
	}

	spec := engine.RunSpec{
		Instructions:  buildInstructions(a),
		ToolGroups:    groups,
		PreAuthorized: preAuthorized(a, groups),
		Workspace:     a.WorkspacePath,
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	col := newCollector(e.now)
	var finalText strings.Builder
	var usage *history.Usage

	events, runErr := e.engine.Run(runCtx, spec)
	if runErr != nil {
		runErr = classifyEngineError(runErr)
	} else {
		usage, runErr = e.consume(runCtx, cancel, events, col, &finalText)
	}
	// The engine may have closed the stream in response to the deadline
	// without the loop observing it.
	if runErr == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		runErr = ErrTimeout
	}

	completed := e.now().UTC()
	run.CompletedAt = completed
	run.DurationMs = completed.Sub(start).Milliseconds()
	run.Actions = col.Actions()
	run.FilesCreated = col.Files()
	run.Usage = usage

	if runErr != nil {
		run.Status = history.RunError
		run.Outcome = history.Outcome{Type: history.OutcomeError, Summary: runErr.Error()}
		run.Error = &history.RunFailure{Message: runErr.Error(), FailedAction: col.lastError()}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		run.Status = history.RunSuccess
		run.Outcome = classifyOutcome(run.Actions, finalText.String())
	}

	if err := e.history.SaveRun(run); err != nil {
		e.logger.Error("executor: persisting run failed", "agent", a.ID, "run", run.ID, "error", err)
	}
	e.updateAgent(a, run)
	e.metrics.RecordRun(string(run.Status), trigger, completed.Sub(start))

	if runErr != nil {
		e.logger.Warn("executor: run failed",
			"agent", a.ID, "run", run.ID, "error", runErr, "duration_ms", run.DurationMs)
		return Result{Run: run, Err: runErr}
	}
	e.logger.Info("executor: run completed",
		"agent", a.ID, "run", run.ID, "actions", len(run.Actions), "duration_ms", run.DurationMs)
	return Result{Success: true, Run: run}
}

// consume drains the engine event stream, enforcing the tool-call ceiling.
func (e *Executor) consume(
	ctx context.Context,
	cancel context.CancelFunc,
	events <-chan engine.Event,
	col *collector,
	finalText *strings.Builder,
) (*history.Usage, error) {
	var usage *history.Usage
	toolCalls := 0

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return usage, ErrTimeout
			}
			return usage, ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return usage, nil
			}
			switch ev.Type {
			case engine.EventToolUse:
				toolCalls++
				if toolCalls > e.config.ToolCallLimit {
					// Hard cap: abort the engine and drain its stream so
					// its goroutine can exit.
					cancel()
					for range events {
					}
					return usage, fmt.Errorf("%w: %d calls", ErrToolCeiling, toolCalls)
				}
				col.begin(ev.ToolUse)

			case engine.EventToolResult:
				col.finish(ev.ToolResult)

			case engine.EventText:
				finalText.WriteString(ev.Text)

			case engine.EventUsage:
				usage = &history.Usage{
					InputTokens:  ev.Usage.InputTokens,
					OutputTokens: ev.Usage.OutputTokens,
				}

			case engine.EventResult:
				if ev.Result.Status == "error" {
					return usage, classifyEngineMessage(ev.Result.Err)
				}
			}
		}
	}
}

// updateAgent persists run bookkeeping and folds the outcome into the
// agent's rolling memory. a is mutated so consecutive retry attempts see
// accumulated counts.
func (e *Executor) updateAgent(a *agent.Agent, run *history.Run) {
	patch := agent.Patch{LastRunAt: &run.StartedAt}

	if run.Status == history.RunSuccess {
		a.RunCount++
		patch.RunCount = &a.RunCount
		active := agent.StatusActive
		patch.Status = &active
		empty := ""
		patch.LastError = &empty
	} else {
		a.ErrorCount++
		patch.ErrorCount = &a.ErrorCount
		failed := agent.StatusError
		patch.Status = &failed
		patch.LastError = &run.Error.Message
	}

	var topics []string
	for _, ext := range run.Outcome.ExternalActions {
		topics = append(topics, ext.System)
	}
	line := run.StartedAt.Format("2006-01-02") + ": " + run.Outcome.Summary
	a.Memory.Fold(line, topics, run.FilesCreated, run.CompletedAt)
	mem := a.Memory
	patch.Memory = &mem

	if _, err := e.store.UpdateStats(a.ID, patch); err != nil {
		e.logger.Error("executor: updating agent stats failed", "agent", a.ID, "error", err)
	}
}

// ExecuteWithRetry wraps Execute in the bounded retry policy: up to
// MaxAttempts total attempts with exponential backoff from RetryBaseDelay.
// Timeout, tool-ceiling, and configuration failures are terminal and
// never retried.
func (e *Executor) ExecuteWithRetry(ctx context.Context, a *agent.Agent, trigger string) Result {
	var last Result
	attempts := 0

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(e.config.MaxAttempts)),
		retry.Delay(e.config.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retryable),
	)

	err := r.Do(func() error {
		attempts++
		if attempts > 1 {
			e.metrics.RecordRetry()
			e.logger.Info("executor: retrying run", "agent", a.ID, "attempt", attempts)
		}
		last = e.Execute(ctx, a, trigger)
		if last.Success {
			return nil
		}
		return last.Err
	})

	// The context can expire before the first attempt starts.
	if last.Run == nil && err != nil {
		return Result{Err: err}
	}
	return last
}

// classifyEngineError maps an engine start failure onto the taxonomy.
func classifyEngineError(err error) error {
	if errors.Is(err, ErrNotConfigured) {
		return err
	}
	return classifyEngineMessage(err.Error())
}

// classifyEngineMessage maps an engine-reported error message onto the
// taxonomy: credential and configuration complaints are terminal,
// everything else is a transient engine failure.
func classifyEngineMessage(msg string) error {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"credential", "api key", "unauthorized", "not configured"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", ErrNotConfigured, msg)
		}
	}
	return &EngineError{Message: msg}
}
