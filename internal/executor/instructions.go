package executor

import (
	"strings"

	"github.com/flemzord/agentd/internal/agent"
	"github.com/flemzord/agentd/internal/toolgroup"
)

// buildInstructions assembles the effective prompt for one run: a memory
// context block (recent outcome summaries, topics, files) prepended to the
// agent's own instructions, followed by an explicit workspace directive.
func buildInstructions(a *agent.Agent) string {
	var b strings.Builder

	mem := a.Memory
	hasContext := mem.Summary != "" || len(mem.RecentTopics) > 0 || len(mem.RecentFiles) > 0
	if hasContext {
		b.WriteString("## Context from previous runs\n\n")
		if mem.Summary != "" {
			b.WriteString("Recent outcomes:\n")
			for _, line := range mem.SummaryLines() {
				b.WriteString("- ")
				b.WriteString(line)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
		if len(mem.RecentTopics) > 0 {
			b.WriteString("Recent topics: ")
			b.WriteString(strings.Join(mem.RecentTopics, ", "))
			b.WriteString("\n\n")
		}
		if len(mem.RecentFiles) > 0 {
			b.WriteString("Files from previous runs:\n")
			for _, f := range mem.RecentFiles {
				b.WriteString("- ")
				b.WriteString(f)
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Task\n\n")
	b.WriteString(strings.TrimSpace(a.Instructions))
	b.WriteString("\n\n")

	b.WriteString("Work inside the workspace directory ")
	b.WriteString(a.WorkspacePath)
	b.WriteString(". Create any files there, not in a shared location.\n")

	return b.String()
}

// builtinTools are always pre-authorized in batch mode so the engine's
// generic file and web capabilities never prompt.
var builtinTools = []string{
	"fs.read",
	"fs.write",
	"fs.edit",
	"fs.list",
	"shell.run",
	"web.fetch",
	"web.search",
}

// preAuthorized is the union of the agent's permitted tools, every tool
// its resolved groups expose when the agent opts into blanket
// pre-authorization, and the built-in file/web set, deduplicated.
func preAuthorized(a *agent.Agent, groups []toolgroup.Config) []string {
	candidates := append([]string(nil), a.Permissions.Tools...)
	if a.Permissions.PreAuthorized {
		candidates = append(candidates, toolgroup.Tools(groups)...)
	}
	candidates = append(candidates, builtinTools...)

	seen := make(map[string]struct{}, len(candidates))
	var tools []string
	for _, t := range candidates {
		if _, dup := seen[t]; dup || t == "" {
			continue
		}
		seen[t] = struct{}{}
		tools = append(tools, t)
	}
	return tools
}
