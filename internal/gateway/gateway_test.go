package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/agentd/internal/agent"
	"github.com/flemzord/agentd/internal/config"
	"github.com/flemzord/agentd/internal/history"
	"github.com/flemzord/agentd/internal/scheduler"
	"github.com/flemzord/agentd/internal/store"
	"github.com/flemzord/agentd/internal/telemetry"
	"github.com/flemzord/agentd/internal/trigger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// fakeAgents is an in-memory AgentStore.
type fakeAgents struct {
	mu     sync.Mutex
	agents map[string]*agent.Agent
}

func newFakeAgents(agents ...*agent.Agent) *fakeAgents {
	s := &fakeAgents{agents: make(map[string]*agent.Agent)}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return s
}

func (s *fakeAgents) Create(userID string, def *agent.Agent) (*agent.Agent, error) {
	a := def.Clone()
	a.UserID = userID
	if a.Status == "" {
		a.Status = agent.StatusActive
	}
	if err := a.Validate(nil); err != nil {
		return nil, err
	}
	a.ID = agent.NewID(a.Name)
	s.mu.Lock()
	s.agents[a.ID] = a
	s.mu.Unlock()
	return a.Clone(), nil
}

func (s *fakeAgents) Get(userID, id string) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok || a.UserID != userID {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return a.Clone(), nil
}

func (s *fakeAgents) List(userID string, filter store.ListFilter) ([]*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*agent.Agent
	for _, a := range s.agents {
		if a.UserID != userID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a.Clone())
	}
	return out, nil
}

func (s *fakeAgents) Update(userID, id string, patch agent.Patch) (*agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok || a.UserID != userID {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	patch.Apply(a)
	return a.Clone(), nil
}

func (s *fakeAgents) ToggleStatus(userID, id string, status agent.Status) (*agent.Agent, error) {
	return s.Update(userID, id, agent.Patch{Status: &status})
}

func (s *fakeAgents) Delete(userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok || a.UserID != userID {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	delete(s.agents, id)
	return nil
}

// fakeRuns is an in-memory RunHistory.
type fakeRuns struct {
	runs    map[string][]*history.Run
	deleted []string
}

func (h *fakeRuns) GetRunHistory(agentID string, _ int) ([]*history.Run, error) {
	return h.runs[agentID], nil
}

func (h *fakeRuns) GetRunStats(agentID string) (history.Stats, error) {
	return history.Stats{TotalRuns: len(h.runs[agentID])}, nil
}

func (h *fakeRuns) DeleteAgentHistory(agentID string) error {
	h.deleted = append(h.deleted, agentID)
	return nil
}

// fakeJobs records scheduling calls.
type fakeJobs struct {
	mu          sync.Mutex
	scheduled   []string
	unscheduled []string
	triggered   []string
	result      scheduler.Result
}

func (j *fakeJobs) TriggerAgent(_ context.Context, id string) scheduler.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.triggered = append(j.triggered, id)
	return j.result
}

func (j *fakeJobs) ScheduleAgent(a *agent.Agent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.scheduled = append(j.scheduled, a.ID)
	return nil
}

func (j *fakeJobs) UnscheduleAgent(id string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.unscheduled = append(j.unscheduled, id)
}

func (j *fakeJobs) RescheduleAgent(a *agent.Agent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.scheduled = append(j.scheduled, a.ID)
	return nil
}

func (j *fakeJobs) GetStatus() scheduler.Status {
	return scheduler.Status{TotalJobs: 1}
}

// fakeTriggers records webhook deliveries.
type fakeTriggers struct {
	mu       sync.Mutex
	source   string
	event    string
	payload  json.RawMessage
	results  []trigger.FireResult
	register []trigger.Trigger
}

func (f *fakeTriggers) Register(t trigger.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.register = append(f.register, t)
	return nil
}

func (f *fakeTriggers) Unregister(string) error { return nil }

func (f *fakeTriggers) List() []trigger.Trigger { return nil }

func (f *fakeTriggers) HandleWebhook(_ context.Context, source, event string, payload json.RawMessage) []trigger.FireResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = source
	f.event = event
	f.payload = payload
	return f.results
}

func activeAgent(id, userID string) *agent.Agent {
	return &agent.Agent{
		ID:           id,
		UserID:       userID,
		Name:         id,
		Instructions: "work",
		Schedule:     agent.Schedule{Cron: "0 9 * * *"},
		ToolGroups:   []string{},
		Status:       agent.StatusActive,
	}
}

type testGateway struct {
	handler  http.Handler
	agents   *fakeAgents
	runs     *fakeRuns
	jobs     *fakeJobs
	triggers *fakeTriggers
}

func newTestGateway(agents *fakeAgents) *testGateway {
	tg := &testGateway{
		agents:   agents,
		runs:     &fakeRuns{runs: make(map[string][]*history.Run)},
		jobs:     &fakeJobs{result: scheduler.Result{Executed: true, Run: &history.Run{ID: "run-1", Status: history.RunSuccess}}},
		triggers: &fakeTriggers{},
	}
	g := New(Options{
		Config: config.GatewayConfig{
			Bind:      "127.0.0.1:0",
			AuthToken: "tok",
			Webhooks:  map[string]config.WebhookSourceConfig{"github": {Secret: "hooksecret"}},
		},
		Store:    tg.agents,
		History:  tg.runs,
		Jobs:     tg.jobs,
		Triggers: tg.triggers,
		Logger:   testLogger(),
		Version:  "test",
	})
	tg.handler = g.buildRouter()
	return tg
}

func (tg *testGateway) do(method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer tok")
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rr := httptest.NewRecorder()
	tg.handler.ServeHTTP(rr, req)
	return rr
}

func TestGateway_AuthRequired(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	tg.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	tg.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rr.Code)
	}

	if rr := tg.do(http.MethodGet, "/status", "", nil); rr.Code != http.StatusOK {
		t.Errorf("good token status = %d, want 200", rr.Code)
	}
}

func TestGateway_HealthIsPublic(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	tg.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without auth", rr.Code)
	}
}

func TestGateway_AgentsRequireUserHeader(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents())
	if rr := tg.do(http.MethodGet, "/api/agents/", "", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without user header", rr.Code)
	}
}

func TestGateway_CreateAgentSchedules(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents())
	def := map[string]any{
		"name":         "Digest",
		"instructions": "summarize",
		"schedule":     map[string]string{"cron": "0 9 * * *"},
		"toolGroups":   []string{},
	}

	rr := tg.do(http.MethodPost, "/api/agents/", "alice", def)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var created agent.Agent
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if created.UserID != "alice" {
		t.Errorf("userId = %q, want alice", created.UserID)
	}

	tg.jobs.mu.Lock()
	defer tg.jobs.mu.Unlock()
	if len(tg.jobs.scheduled) != 1 || tg.jobs.scheduled[0] != created.ID {
		t.Errorf("scheduled = %v, want [%s]", tg.jobs.scheduled, created.ID)
	}
}

func TestGateway_CreateAgentValidationError(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents())
	rr := tg.do(http.MethodPost, "/api/agents/", "alice", map[string]any{"name": ""})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestGateway_CrossUserAccessIs404(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents(activeAgent("a1", "alice")))
	if rr := tg.do(http.MethodGet, "/api/agents/a1", "bob", nil); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for another user's agent", rr.Code)
	}
	if rr := tg.do(http.MethodGet, "/api/agents/a1", "alice", nil); rr.Code != http.StatusOK {
		t.Errorf("owner status = %d, want 200", rr.Code)
	}
}

func TestGateway_ToggleStatusResyncsSchedule(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents(activeAgent("a1", "alice")))

	rr := tg.do(http.MethodPost, "/api/agents/a1/status", "alice", map[string]string{"status": "paused"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	tg.jobs.mu.Lock()
	defer tg.jobs.mu.Unlock()
	if len(tg.jobs.unscheduled) != 1 || tg.jobs.unscheduled[0] != "a1" {
		t.Errorf("unscheduled = %v, want [a1]", tg.jobs.unscheduled)
	}
}

func TestGateway_ToggleStatusRejectsError(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents(activeAgent("a1", "alice")))
	rr := tg.do(http.MethodPost, "/api/agents/a1/status", "alice", map[string]string{"status": "error"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (error is not settable via API)", rr.Code)
	}
}

func TestGateway_DeleteCleansUp(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents(activeAgent("a1", "alice")))

	rr := tg.do(http.MethodDelete, "/api/agents/a1", "alice", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}

	tg.jobs.mu.Lock()
	unscheduled := append([]string(nil), tg.jobs.unscheduled...)
	tg.jobs.mu.Unlock()
	if len(unscheduled) != 1 || unscheduled[0] != "a1" {
		t.Errorf("unscheduled = %v, want [a1]", unscheduled)
	}
	if len(tg.runs.deleted) != 1 || tg.runs.deleted[0] != "a1" {
		t.Errorf("history deleted = %v, want [a1]", tg.runs.deleted)
	}
}

func TestGateway_ManualRun(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents(activeAgent("a1", "alice")))

	rr := tg.do(http.MethodPost, "/api/agents/a1/run", "alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp runResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Executed || resp.RunID != "run-1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestGateway_ManualRunSkipIsConflict(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents(activeAgent("a1", "alice")))
	tg.jobs.result = scheduler.Result{SkipReason: scheduler.SkipAlreadyRunning}

	rr := tg.do(http.MethodPost, "/api/agents/a1/run", "alice", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for skipped run", rr.Code)
	}
}

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestGateway_WebhookValidSignature(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents())
	tg.triggers.results = []trigger.FireResult{{TriggerID: "t1"}}

	body := []byte(`{"ref":"main"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signBody(body, "hooksecret"))
	req.Header.Set(eventHeader, "push")
	rr := httptest.NewRecorder()
	tg.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if tg.triggers.source != "github" || tg.triggers.event != "push" {
		t.Errorf("dispatched source=%q event=%q", tg.triggers.source, tg.triggers.event)
	}
	if string(tg.triggers.payload) != string(body) {
		t.Errorf("payload = %s", tg.triggers.payload)
	}

	var resp webhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Matched != 1 || len(resp.Fired) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestGateway_WebhookBadSignature(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents())

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "sha256=deadbeef")
	rr := httptest.NewRecorder()
	tg.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	if tg.triggers.source != "" {
		t.Error("dispatcher called despite bad signature")
	}
}

func TestGateway_WebhookCountsEvents(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	metrics := telemetry.InitMetrics(registry)

	g := New(Options{
		Config:   config.GatewayConfig{Bind: "127.0.0.1:0"},
		Store:    newFakeAgents(),
		History:  &fakeRuns{runs: make(map[string][]*history.Run)},
		Jobs:     &fakeJobs{},
		Triggers: &fakeTriggers{},
		Metrics:  metrics,
		Logger:   testLogger(),
	})
	handler := g.buildRouter()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewReader([]byte(`{}`)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var got float64
	for _, mf := range families {
		if mf.GetName() != "agentd_webhooks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got = m.GetCounter().GetValue()
		}
	}
	if got != 3 {
		t.Errorf("agentd_webhooks_total = %v, want 3", got)
	}
}

func TestGateway_WebhookUnconfiguredSourceSkipsHMAC(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(newFakeAgents())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/ticketing", bytes.NewReader([]byte(`{}`)))
	rr := httptest.NewRecorder()
	tg.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (no secret configured)", rr.Code)
	}
	if tg.triggers.source != "ticketing" {
		t.Errorf("source = %q, want ticketing", tg.triggers.source)
	}
}
