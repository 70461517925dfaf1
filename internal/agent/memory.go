package agent

import (
	"strings"
	"time"
)

// Bounds for the rolling cross-run memory.
const (
	MaxSummaryLines = 5
	MaxRecentTopics = 10
	MaxRecentFiles  = 20
)

// Memory is the rolling cross-run context carried between executions.
// The summary is derived from recent run outcomes and is the only state
// fed back into future instructions.
type Memory struct {
	Summary      string    `json:"summary,omitempty"`
	RecentTopics []string  `json:"recentTopics,omitempty"`
	RecentFiles  []string  `json:"recentFiles,omitempty"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Fold appends one outcome line to the rolling summary and merges topics
// and files into their bounded lists, evicting oldest entries first.
func (m *Memory) Fold(line string, topics, files []string, now time.Time) {
	line = strings.TrimSpace(line)
	if line != "" {
		lines := m.SummaryLines()
		lines = append(lines, line)
		if len(lines) > MaxSummaryLines {
			lines = lines[len(lines)-MaxSummaryLines:]
		}
		m.Summary = strings.Join(lines, "\n")
	}
	m.RecentTopics = appendBounded(m.RecentTopics, topics, MaxRecentTopics)
	m.RecentFiles = appendBounded(m.RecentFiles, files, MaxRecentFiles)
	m.LastUpdated = now
}

// SummaryLines splits the summary into its non-empty lines.
func (m *Memory) SummaryLines() []string {
	if m.Summary == "" {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(m.Summary, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// appendBounded appends items to list, dropping duplicates and keeping at
// most limit entries (newest win).
func appendBounded(list, items []string, limit int) []string {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		dup := false
		for _, existing := range list {
			if existing == it {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		list = append(list, it)
	}
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
