package executor

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/flemzord/agentd/internal/engine"
	"github.com/flemzord/agentd/internal/history"
)

// collector pairs tool_use and tool_result events by call id into ordered
// action records and extracts created file paths along the way.
type collector struct {
	now     func() time.Time
	pending map[string]int // call id -> index into actions
	actions []history.Action
	files   []string
	seen    map[string]struct{}
}

func newCollector(now func() time.Time) *collector {
	return &collector{
		now:     now,
		pending: make(map[string]int),
		seen:    make(map[string]struct{}),
	}
}

// begin records a tool invocation awaiting its result.
func (c *collector) begin(use *engine.ToolUse) {
	c.actions = append(c.actions, history.Action{
		Tool:      use.Tool,
		Input:     use.Input,
		Timestamp: c.now().UTC(),
	})
	c.pending[use.CallID] = len(c.actions) - 1
	c.collectFiles(use.Tool, use.Input)
}

// finish attaches a result to its invocation. Results with no matching
// call id are dropped; the engine stream is the source of truth for
// pairing.
func (c *collector) finish(res *engine.ToolResult) {
	idx, ok := c.pending[res.CallID]
	if !ok {
		return
	}
	delete(c.pending, res.CallID)

	a := &c.actions[idx]
	a.Result = res.Result
	a.IsError = res.IsError
	a.DurationMs = c.now().UTC().Sub(a.Timestamp).Milliseconds()
}

// Actions returns the recorded actions in invocation order.
func (c *collector) Actions() []history.Action {
	return c.actions
}

// Files returns the created file paths, in first-seen order.
func (c *collector) Files() []string {
	return c.files
}

// lastError returns the tool name of the most recent failed action.
func (c *collector) lastError() string {
	for i := len(c.actions) - 1; i >= 0; i-- {
		if c.actions[i].IsError {
			return c.actions[i].Tool
		}
	}
	return ""
}

// collectFiles pulls created paths out of write/edit tool inputs and out
// of shell commands with output redirects.
func (c *collector) collectFiles(tool string, input json.RawMessage) {
	lower := strings.ToLower(tool)
	switch {
	case strings.Contains(lower, "write"), strings.Contains(lower, "edit"):
		var args struct {
			Path     string `json:"path"`
			FilePath string `json:"file_path"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return
		}
		if args.Path != "" {
			c.addFile(args.Path)
		} else if args.FilePath != "" {
			c.addFile(args.FilePath)
		}
	case strings.Contains(lower, "shell"), strings.Contains(lower, "bash"):
		var args struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return
		}
		for _, path := range redirectTargets(args.Command) {
			c.addFile(path)
		}
	}
}

func (c *collector) addFile(path string) {
	if _, dup := c.seen[path]; dup {
		return
	}
	c.seen[path] = struct{}{}
	c.files = append(c.files, path)
}

// redirectTargets finds the targets of > and >> redirects in a shell
// command. A heuristic: quoting and here-docs are not parsed.
func redirectTargets(command string) []string {
	fields := strings.Fields(command)
	var targets []string
	for i, f := range fields {
		if f != ">" && f != ">>" {
			continue
		}
		if i+1 >= len(fields) {
			continue
		}
		target := strings.Trim(fields[i+1], `"'`)
		if target == "" || target == "/dev/null" || strings.HasPrefix(target, "&") {
			continue
		}
		targets = append(targets, target)
	}
	return targets
}
