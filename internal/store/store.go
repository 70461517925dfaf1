// Package store persists scheduled-agent definitions as one JSON file per
// agent under {agentsRoot}/{userId}/{agentId}.json. Writes go through a
// temp file and rename so readers never observe a partial entity. A
// secondary id→userId index, built at open and maintained on create and
// delete, replaces per-lookup directory scans.
package store

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

	"github.com/flemzord/agentd/internal/agent"
)

// Store is a file-backed agent store. Safe for concurrent use.
type Store struct {
	mu             sync.Mutex
	agentsRoot     string
	workspacesRoot string
	owners         map[string]string // agent id -> user id
	cronCheck      agent.CronValidator
	logger         *slog.Logger
	now            func() time.Time
}

// Options configures a Store.
type Options struct {
	AgentsRoot     string
	WorkspacesRoot string

	// CronCheck validates cron expressions at create/update time.
	// Optional; nil skips expression-level validation.
	CronCheck agent.CronValidator

	Logger *slog.Logger
}

// Open creates the root directories if needed and builds the id index by
// scanning every user's directory once.
func Open(opts Options) (*Store, error) {
	if opts.AgentsRoot == "" {
		return nil, errors.New("store: agents root is required")
	}
	if opts.WorkspacesRoot == "" {
		return nil, errors.New("store: workspaces root is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{opts.AgentsRoot, opts.WorkspacesRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: creating %s: %w", dir, err)
		}
	}

	s := &Store{
		agentsRoot:     opts.AgentsRoot,
		workspacesRoot: opts.WorkspacesRoot,
		owners:         make(map[string]string),
		cronCheck:      opts.CronCheck,
		logger:         logger,
		now:            time.Now,
	}
	if err := s.buildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) buildIndex() error {
	users, err := os.ReadDir(s.agentsRoot)
	if err != nil {
		return fmt.Errorf("store: scanning %s: %w", s.agentsRoot, err)
	}
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.agentsRoot, u.Name()))
		if err != nil {
			return fmt.Errorf("store: scanning user %s: %w", u.Name(), err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			id := strings.TrimSuffix(e.Name(), ".json")
			s.owners[id] = u.Name()
		}
	}
	return nil
}

// Create validates def, allocates an id and a workspace directory, and
// persists the new agent. Name, instructions, schedule.cron, and the
// toolGroups field are required.
func (s *Store) Create(userID string, def *agent.Agent) (*agent.Agent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &agent.ValidationError{Field: "userId", Reason: "must not be empty"}
	}

	a := def.Clone()
	a.UserID = userID
	if a.MaxRunsPerHour == 0 {
		a.MaxRunsPerHour = agent.DefaultMaxRunsPerHour
	}
	if a.Status == "" {
		a.Status = agent.StatusActive
	}
	if err := a.Validate(s.cronCheck); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = agent.NewID(a.Name)
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	a.WorkspacePath = filepath.Join(s.workspacesRoot, a.ID)
	if err := os.MkdirAll(a.WorkspacePath, 0o755); err != nil {
		return nil, fmt.Errorf("store: allocating workspace: %w", err)
	}

	if err := s.write(a); err != nil {
		return nil, err
	}
	s.owners[a.ID] = userID
	s.logger.Info("store: agent created", "agent", a.ID, "user", userID)
	return a.Clone(), nil
}

// Get returns the agent owned by userID with the given id.
func (s *Store) Get(userID, id string) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(userID, id)
}

// GetByID locates an agent by id alone using the index.
func (s *Store) GetByID(id string) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.owners[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.read(userID, id)
}

// ListFilter narrows List results.
type ListFilter struct {
	// Status filters to agents in the given state. Empty means all.
	Status agent.Status
}

// List returns all agents for userID sorted by UpdatedAt descending.
func (s *Store) List(userID string, filter ListFilter) ([]*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.agentsRoot, userID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: listing %s: %w", dir, err)
	}

	var agents []*agent.Agent
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		a, err := s.read(userID, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			s.logger.Warn("store: skipping unreadable agent file", "file", e.Name(), "error", err)
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		agents = append(agents, a)
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].UpdatedAt.After(agents[j].UpdatedAt)
	})
	return agents, nil
}

// GetAllActive scans every user's store and returns all active agents.
// Used once at process startup to rebuild cron registrations.
func (s *Store) GetAllActive() ([]*agent.Agent, error) {
	s.mu.Lock()
	ids := make(map[string]string, len(s.owners))
	for id, user := range s.owners {
		ids[id] = user
	}
	s.mu.Unlock()

	var active []*agent.Agent
	for id, user := range ids {
		s.mu.Lock()
		a, err := s.read(user, id)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("store: skipping unreadable agent", "agent", id, "error", err)
			continue
		}
		if a.Status == agent.StatusActive {
			active = append(active, a)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

// Update applies a shallow patch. Schedule or tool-group changes trigger
// re-validation; a patched status must be one of the recognized values.
// ID and UserID can never change.
func (s *Store) Update(userID, id string, patch agent.Patch) (*agent.Agent, error) {
	if patch.Status != nil && !agent.ValidStatus(*patch.Status) {
		return nil, &agent.ValidationError{Field: "status", Reason: "must be active, paused, or error"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(userID, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(a)
	a.ID = id
	a.UserID = userID
	if patch.Revalidates() {
		if err := a.Validate(s.cronCheck); err != nil {
			return nil, err
		}
	}
	a.UpdatedAt = s.now().UTC()

	if err := s.write(a); err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// ToggleStatus sets the agent's status. Only active, paused, and error
// are accepted; Update enforces that.
func (s *Store) ToggleStatus(userID, id string, status agent.Status) (*agent.Agent, error) {
	return s.Update(userID, id, agent.Patch{Status: &status})
}

// Delete removes the agent's definition file and workspace directory.
func (s *Store) Delete(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(userID, id)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("store: deleting %s: %w", id, err)
	}
	delete(s.owners, id)

	workspace := filepath.Join(s.workspacesRoot, id)
	if err := os.RemoveAll(workspace); err != nil {
		s.logger.Warn("store: workspace cleanup failed", "agent", id, "error", err)
	}
	s.logger.Info("store: agent deleted", "agent", id, "user", userID)
	return nil
}

// UpdateStats patches run bookkeeping fields, locating the owner via the
// id index.
func (s *Store) UpdateStats(id string, patch agent.Patch) (*agent.Agent, error) {
	userID, err := s.owner(id)
	if err != nil {
		return nil, err
	}
	return s.Update(userID, id, patch)
}

// UpdateMemory replaces the agent's rolling memory, locating the owner
// via the id index.
func (s *Store) UpdateMemory(id string, mem agent.Memory) (*agent.Agent, error) {
	userID, err := s.owner(id)
	if err != nil {
		return nil, err
	}
	return s.Update(userID, id, agent.Patch{Memory: &mem})
}

func (s *Store) owner(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.owners[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return userID, nil
}

func (s *Store) path(userID, id string) string {
	return filepath.Join(s.agentsRoot, userID, id+".json")
}

// read loads one agent. Callers must hold s.mu.
func (s *Store) read(userID, id string) (*agent.Agent, error) {
	raw, err := os.ReadFile(s.path(userID, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: reading %s: %w", id, err)
	}
	var a agent.Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("store: parsing %s: %w", id, err)
	}
	return &a, nil
}

// write persists one agent atomically (temp file + rename in the same
// directory). Callers must hold s.mu.
func (s *Store) write(a *agent.Agent) error {
	dir := filepath.Join(s.agentsRoot, a.UserID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: creating %s: %w", dir, err)
	}

	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", a.ID, err)
	}

	tmp, err := os.CreateTemp(dir, a.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: writing %s: %w", a.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: writing %s: %w", a.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: writing %s: %w", a.ID, err)
	}
	if err := os.Rename(tmpName, s.path(a.UserID, a.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: writing %s: %w", a.ID, err)
	}
	return nil
}
