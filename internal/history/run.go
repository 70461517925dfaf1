// Package history persists execution records, one JSON file per run under
// {runsRoot}/{agentId}/{timestamp}.json. Records are append-only: once
// saved they are never mutated.
package history

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of one execution attempt.
type RunStatus string

// RunStatus values.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// OutcomeType classifies what a run produced.
type OutcomeType string

// OutcomeType values.
const (
	// OutcomeAction means the run performed recognized external side
	// effects (posted, created, or updated something in another system).
	OutcomeAction OutcomeType = "action"

	// OutcomeResponse means the run only produced text.
	OutcomeResponse OutcomeType = "response"

	// OutcomeError means the run failed.
	OutcomeError OutcomeType = "error"
)

// Action records one paired tool invocation and its result.
type Action struct {
	Tool       string          `json:"tool"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMs int64           `json:"durationMs"`
}

// ExternalAction describes a recognized side effect in another system.
type ExternalAction struct {
	System string `json:"system"`
	Action string `json:"action"`
	URL    string `json:"url,omitempty"`
}

// Outcome summarizes what a run accomplished.
type Outcome struct {
	Type            OutcomeType      `json:"type"`
	Summary         string           `json:"summary"`
	Details         string           `json:"details,omitempty"`
	ExternalActions []ExternalAction `json:"externalActions,omitempty"`
}

// Usage is the engine's reported token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// RunFailure captures error details when a run ends in RunError.
type RunFailure struct {
	Message      string `json:"message"`
	Stack        string `json:"stack,omitempty"`
	FailedAction string `json:"failedAction,omitempty"`
}

// Run is one immutable execution record.
type Run struct {
	ID           string      `json:"id"`
	AgentID      string      `json:"agentId"`
	Trigger      string      `json:"trigger,omitempty"`
	StartedAt    time.Time   `json:"startedAt"`
	CompletedAt  time.Time   `json:"completedAt"`
	DurationMs   int64       `json:"durationMs"`
	Status       RunStatus   `json:"status"`
	Actions      []Action    `json:"actions,omitempty"`
	FilesCreated []string    `json:"filesCreated,omitempty"`
	Outcome      Outcome     `json:"outcome"`
	Usage        *Usage      `json:"usage,omitempty"`
	Error        *RunFailure `json:"error,omitempty"`
}

// NewRunID derives a run id from the start time plus a random suffix.
func NewRunID(startedAt time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return "run-" + startedAt.UTC().Format("20060102150405") + "-" + suffix
}

// fileStamp is the filesystem-safe encoding of a run's start time used as
// its file name (colons are not portable across filesystems).
func fileStamp(startedAt time.Time) string {
	return startedAt.UTC().Format("2006-01-02T15-04-05.000000000Z")
}
