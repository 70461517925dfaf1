// Package engine defines the boundary to the external agent execution
// engine: the black box that interprets instructions and invokes tools.
// The orchestrator drives it with a run specification and consumes an
// ordered stream of typed events.
package engine

import (
	"context"
	"encoding/json"

	"github.com/flemzord/agentd/internal/toolgroup"
)

// RunSpec is everything the engine needs for one unattended run.
type RunSpec struct {
	// Instructions is the effective prompt: memory context plus the
	// agent's own instructions plus the workspace directive.
	Instructions string

	// ToolGroups are the resolved tool-group configurations the engine
	// may connect to for this run.
	ToolGroups []toolgroup.Config

	// PreAuthorized lists fully-qualified tool names approved for the
	// session. The engine must never issue an interactive permission
	// prompt in batch mode; tools outside this list are simply denied.
	PreAuthorized []string

	// Workspace is the agent's isolated working directory.
	Workspace string
}

// EventType identifies the kind of engine event.
type EventType string

// EventType values for the engine stream.
const (
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventText       EventType = "text"
	EventUsage      EventType = "usage"
	EventResult     EventType = "result"
)

// ToolUse announces a tool invocation. CallID pairs it with its result.
type ToolUse struct {
	Tool   string
	Input  json.RawMessage
	CallID string
}

// ToolResult delivers the output for an earlier ToolUse.
type ToolResult struct {
	CallID  string
	Result  string
	IsError bool
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the engine's terminal event.
type Result struct {
	Status string // "success" or "error"
	Err    string
}

// Event is one element of the engine's ordered event stream. Exactly one
// payload field matching Type is set.
type Event struct {
	Type       EventType
	ToolUse    *ToolUse
	ToolResult *ToolResult
	Text       string
	Usage      *Usage
	Result     *Result
}

// Engine is the external execution engine. Run returns a channel that the
// engine closes when the run finishes or ctx is cancelled. A hung engine
// is abandoned via ctx; its resources are not guaranteed reclaimed.
type Engine interface {
	Run(ctx context.Context, spec RunSpec) (<-chan Event, error)
}
