package store

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/flemzord/agentd/internal/agent"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := Open(Options{
		AgentsRoot:     filepath.Join(root, "agents"),
		WorkspacesRoot: filepath.Join(root, "workspaces"),
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return s
}

func testDef() *agent.Agent {
	return &agent.Agent{
		Name:         "Inbox Sweep",
		Instructions: "Triage open items.",
		Schedule:     agent.Schedule{Cron: "*/30 * * * *"},
		ToolGroups:   []string{"github"},
	}
}

func TestStore_CreateAcceptsEmptyToolGroups(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	def := testDef()
	def.ToolGroups = []string{}

	a, err := s.Create("alice", def)
	if err != nil {
		t.Fatalf("Create with empty tool groups returned error: %v", err)
	}
	if a.ToolGroups == nil || len(a.ToolGroups) != 0 {
		t.Errorf("ToolGroups = %#v, want present and empty", a.ToolGroups)
	}

	got, err := s.Get("alice", a.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ToolGroups == nil {
		t.Error("persisted agent lost its empty toolGroups array")
	}
}

func TestStore_CreateAppliesDefaults(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a, err := s.Create("alice", testDef())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if a.ID == "" {
		t.Error("expected generated id")
	}
	if a.UserID != "alice" {
		t.Errorf("userId = %q, want alice", a.UserID)
	}
	if a.Status != agent.StatusActive {
		t.Errorf("status = %q, want active", a.Status)
	}
	if a.MaxRunsPerHour != agent.DefaultMaxRunsPerHour {
		t.Errorf("maxRunsPerHour = %d, want %d", a.MaxRunsPerHour, agent.DefaultMaxRunsPerHour)
	}
	if fi, err := os.Stat(a.WorkspacePath); err != nil || !fi.IsDir() {
		t.Errorf("workspace %q not created: %v", a.WorkspacePath, err)
	}
}

func TestStore_CreateRejectsInvalidDefinition(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	def := testDef()
	def.Name = ""

	_, err := s.Create("alice", def)
	var verr *agent.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Nothing persisted.
	agents, _ := s.List("alice", ListFilter{})
	if len(agents) != 0 {
		t.Errorf("expected empty store, got %d agents", len(agents))
	}
}

func TestStore_UserScoping(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a, err := s.Create("alice", testDef())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := s.Get("bob", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user Get = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("alice", a.ID); err != nil {
		t.Errorf("owner Get returned error: %v", err)
	}

	// GetByID ignores scoping for internal callers.
	if _, err := s.GetByID(a.ID); err != nil {
		t.Errorf("GetByID returned error: %v", err)
	}
}

func TestStore_UpdatePreservesIdentity(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a, _ := s.Create("alice", testDef())

	name := "Renamed"
	updated, err := s.Update("alice", a.ID, agent.Patch{Name: &name})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Name != "Renamed" {
		t.Errorf("name = %q, want Renamed", updated.Name)
	}
	if updated.ID != a.ID || updated.UserID != "alice" {
		t.Errorf("identity changed: id=%q user=%q", updated.ID, updated.UserID)
	}
	if !updated.UpdatedAt.After(a.UpdatedAt) && !updated.UpdatedAt.Equal(a.UpdatedAt) {
		t.Error("UpdatedAt went backwards")
	}
}

func TestStore_UpdateRevalidatesScheduleChanges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := Open(Options{
		AgentsRoot:     filepath.Join(root, "agents"),
		WorkspacesRoot: filepath.Join(root, "workspaces"),
		CronCheck: func(expr string) error {
			if expr == "bad" {
				return errors.New("unparsable")
			}
			return nil
		},
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}

	a, err := s.Create("alice", testDef())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	bad := agent.Schedule{Cron: "bad"}
	if _, err := s.Update("alice", a.ID, agent.Patch{Schedule: &bad}); err == nil {
		t.Fatal("expected validation error for bad schedule")
	}

	// The stored agent keeps its old schedule.
	reread, _ := s.Get("alice", a.ID)
	if reread.Schedule.Cron != "*/30 * * * *" {
		t.Errorf("schedule = %q, want original", reread.Schedule.Cron)
	}
}

func TestStore_UpdateRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a, err := s.Create("alice", testDef())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	bogus := agent.Status("bogus")
	_, err = s.Update("alice", a.ID, agent.Patch{Status: &bogus})
	var verr *agent.ValidationError
	if !errors.As(err, &verr) || verr.Field != "status" {
		t.Fatalf("err = %v, want status validation error", err)
	}

	reread, _ := s.Get("alice", a.ID)
	if reread.Status != agent.StatusActive {
		t.Errorf("status = %q, want the original active", reread.Status)
	}
}

func TestStore_ListFiltersAndSorts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a1, _ := s.Create("alice", testDef())
	a2, _ := s.Create("alice", testDef())

	paused := agent.StatusPaused
	if _, err := s.ToggleStatus("alice", a1.ID, paused); err != nil {
		t.Fatalf("ToggleStatus returned error: %v", err)
	}

	all, err := s.List("alice", ListFilter{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	// a1 was toggled last, so it sorts first by UpdatedAt.
	if all[0].ID != a1.ID {
		t.Errorf("first agent = %s, want most recently updated %s", all[0].ID, a1.ID)
	}

	active, _ := s.List("alice", ListFilter{Status: agent.StatusActive})
	if len(active) != 1 || active[0].ID != a2.ID {
		t.Errorf("active filter = %v, want only %s", active, a2.ID)
	}
}

func TestStore_DeleteRemovesEverything(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a, _ := s.Create("alice", testDef())

	if err := s.Delete("alice", a.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := s.Get("alice", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if _, err := s.GetByID(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID after delete = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(a.WorkspacePath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("workspace still exists: %v", err)
	}
	if err := s.Delete("alice", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestStore_IndexSurvivesReopen(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	opts := Options{
		AgentsRoot:     filepath.Join(root, "agents"),
		WorkspacesRoot: filepath.Join(root, "workspaces"),
		Logger:         testLogger(),
	}

	s1, err := Open(opts)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	a, err := s1.Create("alice", testDef())
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	s2, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	got, err := s2.GetByID(a.ID)
	if err != nil {
		t.Fatalf("GetByID after reopen returned error: %v", err)
	}
	if got.UserID != "alice" {
		t.Errorf("owner = %q, want alice", got.UserID)
	}
}

func TestStore_GetAllActive(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a1, _ := s.Create("alice", testDef())
	a2, _ := s.Create("bob", testDef())
	if _, err := s.ToggleStatus("bob", a2.ID, agent.StatusPaused); err != nil {
		t.Fatalf("ToggleStatus returned error: %v", err)
	}

	active, err := s.GetAllActive()
	if err != nil {
		t.Fatalf("GetAllActive returned error: %v", err)
	}
	if len(active) != 1 || active[0].ID != a1.ID {
		t.Errorf("active = %v, want only %s", active, a1.ID)
	}
}

func TestStore_UpdateStatsByID(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	a, _ := s.Create("alice", testDef())

	count := 7
	updated, err := s.UpdateStats(a.ID, agent.Patch{RunCount: &count})
	if err != nil {
		t.Fatalf("UpdateStats returned error: %v", err)
	}
	if updated.RunCount != 7 {
		t.Errorf("runCount = %d, want 7", updated.RunCount)
	}

	if _, err := s.UpdateStats("nope", agent.Patch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id = %v, want ErrNotFound", err)
	}
}
