// Package remote implements the engine boundary over HTTP: a run is
// started with a single POST and its event stream is consumed as
// newline-delimited JSON until the server closes the connection.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flemzord/agentd/internal/engine"
	"github.com/flemzord/agentd/internal/toolgroup"
)

// ErrNotConfigured is returned when the client has no API key. The
// message is part of the contract: callers classify it as a terminal
// configuration failure.
var ErrNotConfigured = errors.New("remote: engine not configured: missing api key")

// scannerBufferSize is the max token size for the event line scanner.
// Tool results and text deltas can be large; the default bufio.Scanner
// limit of ~64 KiB is too small.
const scannerBufferSize = 1 * 1024 * 1024 // 1 MB

// maxErrorBody caps how much of a non-2xx response body is read for the
// error message.
const maxErrorBody = 8 * 1024

// eventChannelBuffer is the buffer size for the event channel.
const eventChannelBuffer = 64

// Client talks to the external execution engine over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

// Options configures a Client.
type Options struct {
	// Endpoint is the engine base URL, e.g. "http://127.0.0.1:8787".
	Endpoint string

	// APIKey authenticates the orchestrator to the engine. Empty means
	// the client is not configured and every Run fails terminally.
	APIKey string

	// HTTPClient overrides the default transport. The client never sets
	// a request timeout itself; run deadlines arrive via context.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// New creates a Client from the given options.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		apiKey:   opts.APIKey,
		http:     httpClient,
		logger:   logger,
	}
}

var _ engine.Engine = (*Client)(nil)

// runRequest is the wire form of an engine run request.
type runRequest struct {
	Instructions  string          `json:"instructions"`
	ToolGroups    []wireToolGroup `json:"toolGroups,omitempty"`
	PreAuthorized []string        `json:"preAuthorizedTools,omitempty"`
	Workspace     string          `json:"workspace"`
}

// wireToolGroup is the wire form of a tool-group configuration.
type wireToolGroup struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Tools     []string          `json:"tools,omitempty"`
}

// wireEvent is one NDJSON line of the engine stream.
type wireEvent struct {
	Type       string          `json:"type"`
	ToolUse    *wireToolUse    `json:"toolUse,omitempty"`
	ToolResult *wireToolResult `json:"toolResult,omitempty"`
	Text       string          `json:"text,omitempty"`
	Usage      *wireUsage      `json:"usage,omitempty"`
	Result     *wireResult     `json:"result,omitempty"`
}

type wireToolUse struct {
	Tool   string          `json:"tool"`
	Input  json.RawMessage `json:"input"`
	CallID string          `json:"callId"`
}

type wireToolResult struct {
	CallID  string `json:"callId"`
	Result  string `json:"result"`
	IsError bool   `json:"isError"`
}

type wireUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

type wireResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Run starts an engine run and returns its event stream. The channel is
// closed when the server ends the stream or ctx is cancelled.
func (c *Client) Run(ctx context.Context, spec engine.RunSpec) (<-chan engine.Event, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(toRunRequest(spec))
	if err != nil {
		return nil, fmt.Errorf("remote: marshal run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: start run: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, fmt.Errorf("%w: engine rejected credentials (status %d)", ErrNotConfigured, resp.StatusCode)
		default:
			return nil, fmt.Errorf("remote: engine returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
	}

	c.logger.Debug("remote: run started", "latency_ms", time.Since(start).Milliseconds())

	ch := make(chan engine.Event, eventChannelBuffer)
	go c.readStream(ctx, resp.Body, ch)
	return ch, nil
}

// readStream reads NDJSON events from body and sends them on ch. The
// channel is closed when the stream ends, on error, or when ctx is
// cancelled. body is always closed.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, ch chan<- engine.Event) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	// Close body on context cancellation to unblock the scanner.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = body.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var we wireEvent
		if err := json.Unmarshal([]byte(line), &we); err != nil {
			c.logger.Warn("remote: dropping malformed event", "error", err)
			continue
		}

		ev, ok := toEvent(we)
		if !ok {
			c.logger.Warn("remote: dropping event of unknown type", "type", we.Type)
			continue
		}

		select {
		case ch <- ev:
		case <-ctx.Done():
			return
		}

		// The stream is done after the terminal event even if the server
		// keeps the connection open.
		if ev.Type == engine.EventResult {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		// Surface a truncated stream as an engine error so the run is not
		// silently treated as successful.
		select {
		case ch <- engine.Event{
			Type:   engine.EventResult,
			Result: &engine.Result{Status: "error", Err: fmt.Sprintf("engine stream interrupted: %v", err)},
		}:
		case <-ctx.Done():
		}
	}
}

// toRunRequest converts a run spec to its wire form.
func toRunRequest(spec engine.RunSpec) runRequest {
	req := runRequest{
		Instructions:  spec.Instructions,
		PreAuthorized: spec.PreAuthorized,
		Workspace:     spec.Workspace,
	}
	for _, g := range spec.ToolGroups {
		req.ToolGroups = append(req.ToolGroups, toWireToolGroup(g))
	}
	return req
}

func toWireToolGroup(g toolgroup.Config) wireToolGroup {
	return wireToolGroup{
		Name:      g.Name,
		Transport: g.Transport,
		Command:   g.Command,
		Args:      g.Args,
		URL:       g.URL,
		Env:       g.Env,
		Tools:     g.Tools,
	}
}

// toEvent converts a wire event to an engine event. Unknown types and
// events missing their payload are rejected.
func toEvent(we wireEvent) (engine.Event, bool) {
	switch engine.EventType(we.Type) {
	case engine.EventToolUse:
		if we.ToolUse == nil {
			return engine.Event{}, false
		}
		return engine.Event{Type: engine.EventToolUse, ToolUse: &engine.ToolUse{
			Tool:   we.ToolUse.Tool,
			Input:  we.ToolUse.Input,
			CallID: we.ToolUse.CallID,
		}}, true

	case engine.EventToolResult:
		if we.ToolResult == nil {
			return engine.Event{}, false
		}
		return engine.Event{Type: engine.EventToolResult, ToolResult: &engine.ToolResult{
			CallID:  we.ToolResult.CallID,
			Result:  we.ToolResult.Result,
			IsError: we.ToolResult.IsError,
		}}, true

	case engine.EventText:
		return engine.Event{Type: engine.EventText, Text: we.Text}, true

	case engine.EventUsage:
		if we.Usage == nil {
			return engine.Event{}, false
		}
		return engine.Event{Type: engine.EventUsage, Usage: &engine.Usage{
			InputTokens:  we.Usage.InputTokens,
			OutputTokens: we.Usage.OutputTokens,
		}}, true

	case engine.EventResult:
		if we.Result == nil {
			return engine.Event{}, false
		}
		return engine.Event{Type: engine.EventResult, Result: &engine.Result{
			Status: we.Result.Status,
			Err:    we.Result.Error,
		}}, true
	}
	return engine.Event{}, false
}
