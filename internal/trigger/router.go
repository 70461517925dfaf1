// Package trigger generalizes what causes an agent to run beyond cron:
// manual invocation, inbound webhook events matched by source and event
// type, and chain triggers that fire an agent when another agent
// completes. The router decouples cause from effect; the effect is always
// execution through the injected runner, which keeps the concurrency and
// rate-limit guards in force.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flemzord/agentd/internal/scheduler"
	"github.com/flemzord/agentd/internal/telemetry"
)

// Type identifies what causes a trigger to fire.
type Type string

// Trigger types.
const (
	TypeManual  Type = "manual"
	TypeWebhook Type = "webhook"
	TypeChain   Type = "chain"
)

// Config carries type-specific matching parameters.
type Config struct {
	// Source and Event match inbound webhooks (webhook type).
	Source string `json:"source,omitempty"`
	Event  string `json:"event,omitempty"`

	// SourceAgentID is the agent whose completion fires this trigger
	// (chain type).
	SourceAgentID string `json:"sourceAgentId,omitempty"`
}

// Trigger is one registered cause-to-agent binding.
type Trigger struct {
	ID      string `json:"id"`
	Type    Type   `json:"type"`
	AgentID string `json:"agentId"`
	Config  Config `json:"config"`
}

// Sentinel errors for the router.
var (
	// ErrUnknownTrigger indicates a fire for an unregistered id.
	ErrUnknownTrigger = errors.New("trigger: unknown trigger")

	// ErrDuplicateTrigger indicates a register with an id already in use.
	ErrDuplicateTrigger = errors.New("trigger: duplicate trigger id")

	// ErrNoRunner indicates the router has no executor configured.
	ErrNoRunner = errors.New("trigger: no runner configured")
)

// Runner executes an agent on the router's behalf. Implemented by the
// scheduler so firing keeps the mutual-exclusion and rate-limit guards.
type Runner interface {
	ExecuteAgent(ctx context.Context, agentID, trigger string) scheduler.Result
}

// Listener observes trigger lifecycle notifications. All methods may be
// called concurrently.
type Listener interface {
	OnTriggerFiring(t Trigger, payload json.RawMessage)
	OnTriggerComplete(t Trigger, res scheduler.Result)
	OnTriggerError(t Trigger, err error)
}

// FireResult pairs a trigger with its execution outcome.
type FireResult struct {
	TriggerID string
	Result    scheduler.Result
	Err       error
}

// Router is the trigger registry. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	triggers map[string]Trigger
	chains   map[string][]string // source agent id -> trigger ids

	runner   Runner
	listener Listener
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

// Options configures a Router.
type Options struct {
	Runner   Runner
	Listener Listener
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// NewRouter creates an empty trigger router.
func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		triggers: make(map[string]Trigger),
		chains:   make(map[string][]string),
		runner:   opts.Runner,
		listener: opts.Listener,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// Register adds a trigger. Chain triggers additionally subscribe to their
// source agent's completions.
func (r *Router) Register(t Trigger) error {
	if t.ID == "" {
		return errors.New("trigger: id is required")
	}
	if t.AgentID == "" {
		return errors.New("trigger: agentId is required")
	}
	switch t.Type {
	case TypeManual:
	case TypeWebhook:
		if t.Config.Source == "" || t.Config.Event == "" {
			return errors.New("trigger: webhook triggers require source and event")
		}
	case TypeChain:
		if t.Config.SourceAgentID == "" {
			return errors.New("trigger: chain triggers require sourceAgentId")
		}
	default:
		return fmt.Errorf("trigger: unknown type %q", t.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.triggers[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTrigger, t.ID)
	}
	r.triggers[t.ID] = t
	if t.Type == TypeChain {
		src := t.Config.SourceAgentID
		r.chains[src] = append(r.chains[src], t.ID)
	}
	r.logger.Info("trigger: registered", "trigger", t.ID, "type", t.Type, "agent", t.AgentID)
	return nil
}

// Unregister removes a trigger and tears down any chain subscription it
// owns.
func (r *Router) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.triggers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, id)
	}
	delete(r.triggers, id)

	if t.Type == TypeChain {
		src := t.Config.SourceAgentID
		ids := r.chains[src]
		for i, existing := range ids {
			if existing == id {
				r.chains[src] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(r.chains[src]) == 0 {
			delete(r.chains, src)
		}
	}
	r.logger.Info("trigger: unregistered", "trigger", id)
	return nil
}

// Get returns a registered trigger.
func (r *Router) Get(id string) (Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.triggers[id]
	if !ok {
		return Trigger{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, id)
	}
	return t, nil
}

// List returns all registered triggers.
func (r *Router) List() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Trigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		out = append(out, t)
	}
	return out
}

// Fire invokes the trigger's agent, emitting firing/complete/error
// notifications around the call.
func (r *Router) Fire(ctx context.Context, id string, payload json.RawMessage) (scheduler.Result, error) {
	t, err := r.Get(id)
	if err != nil {
		return scheduler.Result{}, err
	}
	if r.runner == nil {
		return scheduler.Result{}, ErrNoRunner
	}

	if r.listener != nil {
		r.listener.OnTriggerFiring(t, payload)
	}
	r.metrics.RecordTriggerFire(string(t.Type))

	res := r.runner.ExecuteAgent(ctx, t.AgentID, triggerName(t.Type))
	if res.Err != nil {
		if r.listener != nil {
			r.listener.OnTriggerError(t, res.Err)
		}
		return res, nil
	}
	if r.listener != nil {
		r.listener.OnTriggerComplete(t, res)
	}
	return res, nil
}

// HandleWebhook fires every webhook trigger matching source and event.
// No match is not an error; the result slice is empty.
func (r *Router) HandleWebhook(ctx context.Context, source, event string, payload json.RawMessage) []FireResult {
	r.mu.RLock()
	var matched []Trigger
	for _, t := range r.triggers {
		if t.Type == TypeWebhook && t.Config.Source == source && t.Config.Event == event {
			matched = append(matched, t)
		}
	}
	r.mu.RUnlock()

	results := make([]FireResult, 0, len(matched))
	for _, t := range matched {
		res, err := r.Fire(ctx, t.ID, payload)
		results = append(results, FireResult{TriggerID: t.ID, Result: res, Err: err})
	}
	return results
}

// NotifyAgentComplete fires every chain trigger registered against the
// completed agent. Invoked by the scheduler after any executed run.
func (r *Router) NotifyAgentComplete(ctx context.Context, sourceAgentID string, res scheduler.Result) []FireResult {
	payload, _ := json.Marshal(res)

	r.mu.RLock()
	ids := append([]string(nil), r.chains[sourceAgentID]...)
	r.mu.RUnlock()

	results := make([]FireResult, 0, len(ids))
	for _, id := range ids {
		fireRes, err := r.Fire(ctx, id, payload)
		results = append(results, FireResult{TriggerID: id, Result: fireRes, Err: err})
	}
	return results
}

func triggerName(t Type) string {
	switch t {
	case TypeManual:
		return scheduler.TriggerManual
	case TypeWebhook:
		return scheduler.TriggerWebhook
	case TypeChain:
		return scheduler.TriggerChain
	}
	return string(t)
}
