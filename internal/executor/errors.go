package executor

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for executor runs. Timeout, tool-ceiling, and
// configuration failures are terminal for the attempt and never retried;
// anything else from the engine is treated as transient.
var (
	// ErrTimeout indicates the engine exceeded the wall-clock budget.
	ErrTimeout = errors.New("executor: run timed out")

	// ErrToolCeiling indicates the run exceeded the tool-call limit.
	ErrToolCeiling = errors.New("executor: tool call ceiling exceeded")

	// ErrNotConfigured indicates missing engine credentials or
	// configuration. Engines wrap this sentinel to signal that retrying
	// cannot help.
	ErrNotConfigured = errors.New("executor: engine not configured")
)

// EngineError is a transient engine failure (network, tool transport).
// It is retried with backoff.
type EngineError struct {
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("executor: engine error: %s", e.Message)
}

// retryable reports whether a failed attempt may be retried.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrToolCeiling),
		errors.Is(err, ErrNotConfigured),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
