package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Defaults for history queries.
const (
	DefaultHistoryLimit = 30
	statsWindow         = 100
)

// Sentinel errors for history operations.
var (
	// ErrMissingAgentID indicates a run without an agent id.
	ErrMissingAgentID = errors.New("history: run is missing agentId")

	// ErrMissingStartedAt indicates a run without a start time.
	ErrMissingStartedAt = errors.New("history: run is missing startedAt")

	// ErrDuplicateRun indicates a record already exists for the run's
	// start time. Records are immutable once written.
	ErrDuplicateRun = errors.New("history: run record already exists")
)

// History is a file-backed, append-only run log. Safe for concurrent use.
type History struct {
	mu     sync.Mutex
	root   string
	logger *slog.Logger
}

// Open creates the runs root if needed.
func Open(root string, logger *slog.Logger) (*History, error) {
	if root == "" {
		return nil, errors.New("history: runs root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("history: creating %s: %w", root, err)
	}
	return &History{root: root, logger: logger}, nil
}

// SaveRun writes one immutable record, keyed by a filesystem-safe
// encoding of the run's start time.
func (h *History) SaveRun(run *Run) error {
	if run.AgentID == "" {
		return ErrMissingAgentID
	}
	if run.StartedAt.IsZero() {
		return ErrMissingStartedAt
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	dir := filepath.Join(h.root, run.AgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("history: creating %s: %w", dir, err)
	}

	path := filepath.Join(dir, fileStamp(run.StartedAt)+".json")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
	}

	raw, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encoding run %s: %w", run.ID, err)
	}

	tmp, err := os.CreateTemp(dir, "run.*.tmp")
	if err != nil {
		return fmt.Errorf("history: writing run %s: %w", run.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("history: writing run %s: %w", run.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("history: writing run %s: %w", run.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("history: writing run %s: %w", run.ID, err)
	}
	return nil
}

// GetRunHistory returns the most recent runs for an agent, newest first.
// limit <= 0 applies DefaultHistoryLimit.
func (h *History) GetRunHistory(agentID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	runs, err := h.readAll(agentID)
	if err != nil {
		return nil, err
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Stats aggregates run outcomes over the most recent runs.
type Stats struct {
	TotalRuns      int       `json:"totalRuns"`
	SuccessCount   int       `json:"successCount"`
	ErrorCount     int       `json:"errorCount"`
	AvgDurationMs  int64     `json:"avgDurationMs"`
	LastRunAt      time.Time `json:"lastRunAt"`
	LastRunSuccess bool      `json:"lastRunSuccess"`
}

// GetRunStats aggregates over the last 100 runs of an agent.
func (h *History) GetRunStats(agentID string) (Stats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	runs, err := h.readAll(agentID)
	if err != nil {
		return Stats{}, err
	}
	if len(runs) > statsWindow {
		runs = runs[:statsWindow]
	}

	var stats Stats
	var totalMs int64
	for _, run := range runs {
		stats.TotalRuns++
		switch run.Status {
		case RunSuccess:
			stats.SuccessCount++
		case RunError:
			stats.ErrorCount++
		}
		totalMs += run.DurationMs
	}
	if stats.TotalRuns > 0 {
		stats.AvgDurationMs = totalMs / int64(stats.TotalRuns)
		stats.LastRunAt = runs[0].StartedAt
		stats.LastRunSuccess = runs[0].Status == RunSuccess
	}
	return stats, nil
}

// Cleanup deletes records older than daysToKeep across all agents and
// returns the number removed.
func (h *History) Cleanup(daysToKeep int) (int, error) {
	if daysToKeep <= 0 {
		return 0, errors.New("history: daysToKeep must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -daysToKeep)

	h.mu.Lock()
	defer h.mu.Unlock()

	dirs, err := os.ReadDir(h.root)
	if err != nil {
		return 0, fmt.Errorf("history: scanning %s: %w", h.root, err)
	}

	removed := 0
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(h.root, d.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			h.logger.Warn("history: cleanup scan failed", "agent", d.Name(), "error", err)
			continue
		}
		for _, e := range entries {
			startedAt, ok := parseFileStamp(e.Name())
			if !ok {
				continue
			}
			if startedAt.Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
					h.logger.Warn("history: cleanup delete failed", "file", e.Name(), "error", err)
					continue
				}
				removed++
			}
		}
	}
	if removed > 0 {
		h.logger.Info("history: cleanup removed old runs", "count", removed, "days_kept", daysToKeep)
	}
	return removed, nil
}

// DeleteAgentHistory removes every record for an agent. Called when the
// agent itself is deleted.
func (h *History) DeleteAgentHistory(agentID string) error {
	if agentID == "" {
		return ErrMissingAgentID
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(h.root, agentID)); err != nil {
		return fmt.Errorf("history: deleting runs for %s: %w", agentID, err)
	}
	return nil
}

// readAll loads every run for an agent sorted newest first. Callers must
// hold h.mu.
func (h *History) readAll(agentID string) ([]*Run, error) {
	dir := filepath.Join(h.root, agentID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: scanning %s: %w", dir, err)
	}

	// File names sort chronologically; walk them newest first.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	runs := make([]*Run, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			h.logger.Warn("history: skipping unreadable run file", "file", name, "error", err)
			continue
		}
		var run Run
		if err := json.Unmarshal(raw, &run); err != nil {
			h.logger.Warn("history: skipping corrupt run file", "file", name, "error", err)
			continue
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

func parseFileStamp(name string) (time.Time, bool) {
	if !strings.HasSuffix(name, ".json") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(name, ".json")
	t, err := time.Parse("2006-01-02T15-04-05.000000000Z", stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
