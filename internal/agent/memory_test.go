package agent

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestMemory_FoldKeepsLastSummaryLines(t *testing.T) {
	t.Parallel()

	var m Memory
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= MaxSummaryLines+3; i++ {
		m.Fold(fmt.Sprintf("run %d", i), nil, nil, now)
	}

	lines := m.SummaryLines()
	if len(lines) != MaxSummaryLines {
		t.Fatalf("summary lines = %d, want %d", len(lines), MaxSummaryLines)
	}
	if lines[0] != "run 4" {
		t.Errorf("oldest kept line = %q, want %q", lines[0], "run 4")
	}
	if lines[len(lines)-1] != "run 8" {
		t.Errorf("newest line = %q, want %q", lines[len(lines)-1], "run 8")
	}
	if !m.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", m.LastUpdated, now)
	}
}

func TestMemory_FoldBoundsTopicsAndFiles(t *testing.T) {
	t.Parallel()

	var m Memory
	now := time.Now()

	var topics, files []string
	for i := 0; i < MaxRecentFiles+5; i++ {
		topics = append(topics, fmt.Sprintf("topic-%d", i))
		files = append(files, fmt.Sprintf("out/report-%d.md", i))
	}
	m.Fold("done", topics, files, now)

	if len(m.RecentTopics) != MaxRecentTopics {
		t.Errorf("topics = %d, want %d", len(m.RecentTopics), MaxRecentTopics)
	}
	if len(m.RecentFiles) != MaxRecentFiles {
		t.Errorf("files = %d, want %d", len(m.RecentFiles), MaxRecentFiles)
	}
	// Newest entries win eviction.
	if m.RecentFiles[len(m.RecentFiles)-1] != fmt.Sprintf("out/report-%d.md", MaxRecentFiles+4) {
		t.Errorf("newest file = %q", m.RecentFiles[len(m.RecentFiles)-1])
	}
}

func TestMemory_FoldDeduplicates(t *testing.T) {
	t.Parallel()

	var m Memory
	m.Fold("first", []string{"github"}, []string{"a.txt"}, time.Now())
	m.Fold("second", []string{"github", " github "}, []string{"a.txt"}, time.Now())

	if len(m.RecentTopics) != 1 {
		t.Errorf("topics = %v, want single entry", m.RecentTopics)
	}
	if len(m.RecentFiles) != 1 {
		t.Errorf("files = %v, want single entry", m.RecentFiles)
	}
}

func TestMemory_FoldIgnoresEmptyLine(t *testing.T) {
	t.Parallel()

	var m Memory
	m.Fold("real entry", nil, nil, time.Now())
	m.Fold("   ", nil, nil, time.Now())

	if strings.TrimSpace(m.Summary) != "real entry" {
		t.Errorf("summary = %q, want unchanged", m.Summary)
	}
}
