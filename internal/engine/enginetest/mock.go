// Package enginetest provides test doubles for the engine package.
package enginetest

import (
	"context"
	"sync"

	"github.com/flemzord/agentd/internal/engine"
)

// MockEngine is a configurable test double for engine.Engine.
// Set RunFunc for full control, or Events to have each Run emit a fixed
// event sequence and close the stream. All methods are safe for
// concurrent use.
type MockEngine struct {
	RunFunc func(ctx context.Context, spec engine.RunSpec) (<-chan engine.Event, error)
	Events  []engine.Event

	mu       sync.Mutex
	runCalls int
	specs    []engine.RunSpec
}

// Compile-time interface check.
var _ engine.Engine = (*MockEngine)(nil)

// Run implements engine.Engine.
func (m *MockEngine) Run(ctx context.Context, spec engine.RunSpec) (<-chan engine.Event, error) {
	m.mu.Lock()
	m.runCalls++
	m.specs = append(m.specs, spec)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, spec)
	}

	ch := make(chan engine.Event, len(m.Events))
	go func() {
		defer close(ch)
		for _, ev := range m.Events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// RunCalls returns the number of times Run was called.
func (m *MockEngine) RunCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCalls
}

// LastSpec returns the spec of the most recent Run call.
func (m *MockEngine) LastSpec() engine.RunSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.specs) == 0 {
		return engine.RunSpec{}
	}
	return m.specs[len(m.specs)-1]
}
