package executor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/agentd/internal/history"
)

// External side-effect recognition: a qualified tool name "system.action"
// whose action starts with a mutating verb and whose system is not one of
// the engine's built-in capabilities counts as an external action.
var externalVerbs = []string{
	"post", "send", "create", "update", "delete",
	"publish", "merge", "comment", "upload",
}

var builtinSystems = map[string]struct{}{
	"fs":    {},
	"shell": {},
	"web":   {},
}

const maxSummaryLen = 200

// classifyOutcome scans the run's actions for recognized external side
// effects. Runs with none are plain responses summarized from the
// engine's final text.
func classifyOutcome(actions []history.Action, finalText string) history.Outcome {
	var external []history.ExternalAction
	for _, a := range actions {
		if a.IsError {
			continue
		}
		if ext, ok := recognizeExternal(a); ok {
			external = append(external, ext)
		}
	}

	if len(external) > 0 {
		names := make([]string, 0, len(external))
		for _, e := range external {
			names = append(names, e.System+"."+e.Action)
		}
		return history.Outcome{
			Type:            history.OutcomeAction,
			Summary:         fmt.Sprintf("Performed %d external action(s): %s", len(external), strings.Join(names, ", ")),
			Details:         strings.TrimSpace(finalText),
			ExternalActions: external,
		}
	}

	return history.Outcome{
		Type:    history.OutcomeResponse,
		Summary: truncate(firstLine(finalText), maxSummaryLen),
		Details: strings.TrimSpace(finalText),
	}
}

func recognizeExternal(a history.Action) (history.ExternalAction, bool) {
	system, action, ok := strings.Cut(a.Tool, ".")
	if !ok {
		return history.ExternalAction{}, false
	}
	if _, builtin := builtinSystems[system]; builtin {
		return history.ExternalAction{}, false
	}

	lower := strings.ToLower(action)
	mutating := false
	for _, verb := range externalVerbs {
		if strings.HasPrefix(lower, verb) {
			mutating = true
			break
		}
	}
	if !mutating {
		return history.ExternalAction{}, false
	}

	return history.ExternalAction{
		System: system,
		Action: action,
		URL:    firstURL(a.Result),
	}, true
}

func firstURL(s string) string {
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, `"',;()`)
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			return f
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// truncate shortens s to at most n bytes, cutting on a rune boundary so
// a multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
