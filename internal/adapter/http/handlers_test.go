package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	schhttp "github.com/scholaris/scholaris/internal/adapter/http"
	"github.com/scholaris/scholaris/internal/config"
	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/assistant"
	"github.com/scholaris/scholaris/internal/domain/directory"
	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/domain/tool"
	"github.com/scholaris/scholaris/internal/domain/voice"
	"github.com/scholaris/scholaris/internal/middleware"
	"github.com/scholaris/scholaris/internal/port/modelbackend"
	"github.com/scholaris/scholaris/internal/port/voicetransport"
	"github.com/scholaris/scholaris/internal/service"
)

// testStore implements database.Store for handler tests.
type testStore struct {
	allocs   map[string]*quota.Allocation
	history  []quota.HistoryEntry
	events   []quota.UsageEvent
	requests []quota.Request
	members  []directory.Member
	keys     map[string]*directory.APIKey
}

func newTestStore() *testStore {
	return &testStore{
		allocs: make(map[string]*quota.Allocation),
		keys:   make(map[string]*directory.APIKey),
	}
}

func (s *testStore) key(scopeID string, f quota.Feature) string { return scopeID + "/" + string(f) }

func (s *testStore) GetAllocation(_ context.Context, scopeID string, f quota.Feature, at time.Time) (*quota.Allocation, error) {
	a, ok := s.allocs[s.key(scopeID, f)]
	if !ok || !a.Active(at) {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *testStore) UpsertAllocation(_ context.Context, in quota.AllocateInput, start, end time.Time) (*quota.Allocation, error) {
	a := &quota.Allocation{
		ID: "alloc-1", ScopeType: in.ScopeType, ScopeID: in.ScopeID, Feature: in.Feature,
		PeriodStart: start, PeriodEnd: end, Limit: in.Limit, Priority: in.Priority, AutoRenew: in.AutoRenew,
	}
	if prev, ok := s.allocs[s.key(in.ScopeID, in.Feature)]; ok && prev.PeriodStart.Equal(start) {
		a.Used = prev.Used
	}
	s.allocs[s.key(in.ScopeID, in.Feature)] = a
	cp := *a
	return &cp, nil
}

func (s *testStore) ConsumeUsage(_ context.Context, scopeID string, f quota.Feature, amount int64, at time.Time) (*quota.Allocation, error) {
	a, ok := s.allocs[s.key(scopeID, f)]
	if !ok || !a.Active(at) {
		return nil, domain.ErrNotFound
	}
	if a.Used+amount > a.Limit && a.Priority != quota.PriorityHigh {
		return nil, quota.ErrExceeded
	}
	a.Used += amount
	cp := *a
	return &cp, nil
}

func (s *testStore) AppendHistory(_ context.Context, e *quota.HistoryEntry) error {
	s.history = append(s.history, *e)
	return nil
}

func (s *testStore) ListHistory(_ context.Context, scopeID string, _ int) ([]quota.HistoryEntry, error) {
	var out []quota.HistoryEntry
	for _, h := range s.history {
		if h.ScopeID == scopeID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *testStore) RecordUsageEvent(_ context.Context, ev *quota.UsageEvent) error {
	s.events = append(s.events, *ev)
	return nil
}

func (s *testStore) ListUsageEvents(context.Context, string, time.Time) ([]quota.UsageEvent, error) {
	return s.events, nil
}

func (s *testStore) CreateQuotaRequest(_ context.Context, req *quota.Request) (*quota.Request, error) {
	cp := *req
	cp.ID = fmt.Sprintf("req-%d", len(s.requests)+1)
	cp.Status = quota.RequestPending
	s.requests = append(s.requests, cp)
	return &cp, nil
}

func (s *testStore) ListQuotaRequests(_ context.Context, orgID string, status quota.RequestStatus) ([]quota.Request, error) {
	var out []quota.Request
	for _, r := range s.requests {
		if r.OrgID == orgID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *testStore) ListAllocations(_ context.Context, _ string, at time.Time) ([]quota.Allocation, error) {
	var out []quota.Allocation
	for _, a := range s.allocs {
		if a.Active(at) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *testStore) ListMembers(_ context.Context, orgID string) ([]directory.Member, error) {
	var out []directory.Member
	for _, m := range s.members {
		if m.OrgID == orgID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *testStore) GetStudentProgress(context.Context, string, string) (*directory.Progress, error) {
	return nil, domain.ErrNotFound
}

func (s *testStore) GetInvoiceSummary(context.Context, string) (*directory.InvoiceSummary, error) {
	return nil, domain.ErrNotFound
}

func (s *testStore) CreateAPIKey(_ context.Context, key *directory.APIKey) error {
	if _, exists := s.keys[key.Prefix]; exists {
		return domain.ErrConflict
	}
	cp := *key
	s.keys[key.Prefix] = &cp
	return nil
}

func (s *testStore) GetAPIKeyByPrefix(_ context.Context, prefix string) (*directory.APIKey, error) {
	k, ok := s.keys[prefix]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *testStore) ListAPIKeys(_ context.Context, orgID string) ([]directory.APIKey, error) {
	var out []directory.APIKey
	for _, k := range s.keys {
		if k.OrgID == orgID {
			out = append(out, *k)
		}
	}
	return out, nil
}

// scriptedModel is a modelbackend.Backend replaying fixed responses.
type scriptedModel struct {
	responses []*modelbackend.CompletionResponse
}

func (m *scriptedModel) Complete(context.Context, modelbackend.CompletionRequest, modelbackend.TokenFunc) (*modelbackend.CompletionResponse, error) {
	if len(m.responses) == 0 {
		return &modelbackend.CompletionResponse{Content: "(scripted)"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// stubChannel is a minimal voice channel whose remote acks done immediately.
type stubChannel struct {
	events    chan voice.Event
	closeOnce sync.Once
}

func (c *stubChannel) SendAudio(context.Context, []byte) error { return nil }
func (c *stubChannel) SendDone(context.Context) error {
	c.events <- voice.Event{Kind: voice.EventDone}
	return nil
}
func (c *stubChannel) Events() <-chan voice.Event { return c.events }
func (c *stubChannel) Close(context.Context) error {
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

type stubTransport struct{}

func (stubTransport) Name() string { return "stub" }
func (stubTransport) Open(context.Context, voicetransport.Credential, string) (voicetransport.Channel, error) {
	return &stubChannel{events: make(chan voice.Event, 4)}, nil
}

func init() {
	voicetransport.Register("stub", func(map[string]string) (voicetransport.Backend, error) {
		return stubTransport{}, nil
	})
}

type fixture struct {
	router chi.Router
	store  *testStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newTestStore()
	store.members = []directory.Member{{ID: "m1", OrgID: "org-1", Name: "Dana", Role: "staff"}}

	start, end := quota.PeriodFor(time.Now())
	store.allocs[store.key("p1", quota.FeatureChat)] = &quota.Allocation{
		ScopeID: "p1", Feature: quota.FeatureChat, ScopeType: quota.ScopePrincipal,
		PeriodStart: start, PeriodEnd: end, Limit: 100, Priority: quota.PriorityNormal,
	}
	store.allocs[store.key("p1", quota.FeatureVoice)] = &quota.Allocation{
		ScopeID: "p1", Feature: quota.FeatureVoice, ScopeType: quota.ScopePrincipal,
		PeriodStart: start, PeriodEnd: end, Limit: 10, Priority: quota.PriorityNormal,
	}

	quotaCfg := config.Quota{CheckTTL: time.Second, SuggestMinUsage: 0.2}
	quotaSvc := service.NewQuotaService(store, nil, nil, nil, quotaCfg)

	registry := tool.NewRegistry(4)
	if err := service.RegisterBuiltinTools(registry, store, quotaSvc); err != nil {
		t.Fatalf("register tools: %v", err)
	}

	assistantSvc := service.NewAssistantService(
		&scriptedModel{responses: []*modelbackend.CompletionResponse{{Content: "scripted answer"}}},
		registry, quotaSvc, nil, nil, nil,
		config.Model{Default: "test"}, config.Assistant{MaxWindowTurns: 5, MaxToolRounds: 2},
	)

	voiceSvc := service.NewVoiceService(quotaSvc, nil, nil, nil, config.Voice{
		Transport:     "stub",
		ChunkInterval: time.Millisecond,
		StopTimeout:   time.Second,
		DoneGrace:     100 * time.Millisecond,
	})

	authSvc := service.NewAuthService(store, &config.Auth{Enabled: true, BcryptCost: bcrypt.MinCost})

	h := &schhttp.Handlers{
		Quota:     quotaSvc,
		Assistant: assistantSvc,
		Voice:     voiceSvc,
		Auth:      authSvc,
		Registry:  registry,
	}

	r := chi.NewRouter()
	r.Use(middleware.OrgScope)
	schhttp.MountRoutes(r, h)
	return &fixture{router: r, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Org-ID", "org-1")
	req.Header.Set("X-Principal-ID", "p1")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestCheckQuotaEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/quota/check?scope_id=p1&feature=assistant.chat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[quota.CheckResult](t, rec)
	if !res.Allowed || res.Limit != 100 {
		t.Errorf("unexpected result: %+v", res)
	}

	// Defaults scope to the authenticated principal.
	rec = f.do(t, http.MethodGet, "/api/v1/quota/check?feature=assistant.chat", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with principal default, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/quota/check?scope_id=p1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without feature, got %d", rec.Code)
	}

	// An amount that would not fit the allocation is denied up front.
	rec = f.do(t, http.MethodGet, "/api/v1/quota/check?scope_id=p1&feature=assistant.chat&amount=1000", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for amount check, got %d", rec.Code)
	}
	res = decodeBody[quota.CheckResult](t, rec)
	if res.Allowed {
		t.Error("expected denial for an amount past the limit")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/quota/check?scope_id=p1&feature=assistant.chat&amount=nope", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed amount, got %d", rec.Code)
	}
}

func TestRecordUsageEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/quota/usage", map[string]any{
		"scope_type": "principal", "scope_id": "p1", "feature": "assistant.chat", "amount": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	alloc := decodeBody[quota.Allocation](t, rec)
	if alloc.Used != 5 {
		t.Errorf("expected used=5, got %d", alloc.Used)
	}
}

func TestRecordUsageEndpointExceeded(t *testing.T) {
	f := newFixture(t)
	f.store.allocs[f.store.key("p1", quota.FeatureChat)].Used = 100

	rec := f.do(t, http.MethodPost, "/api/v1/quota/usage", map[string]any{
		"scope_type": "principal", "scope_id": "p1", "feature": "assistant.chat", "amount": 1,
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAllocateEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/quota/allocations", map[string]any{
		"scope_type": "principal", "scope_id": "p2", "feature": "assistant.chat",
		"limit": 50, "reason": "new hire",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.store.history) != 1 || f.store.history[0].ActorID != "p1" {
		t.Errorf("expected history entry by p1, got %+v", f.store.history)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/quota/allocations", map[string]any{
		"scope_type": "principal", "scope_id": "p2", "feature": "bogus", "limit": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown feature, got %d", rec.Code)
	}
}

func TestBulkAllocateEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/quota/allocations/bulk", []map[string]any{
		{"scope_type": "principal", "scope_id": "a", "feature": "assistant.chat", "limit": 10},
		{"scope_type": "principal", "scope_id": "b", "feature": "bogus", "limit": 10},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Results []quota.BulkResult `json:"results"`
	}](t, rec)
	if len(body.Results) != 2 || !body.Results[0].OK || body.Results[1].OK {
		t.Errorf("unexpected results: %+v", body.Results)
	}
}

func TestQuotaRequestEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/quota/requests", map[string]any{
		"feature": "assistant.chat", "amount": 25, "note": "exam week",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	req := decodeBody[quota.Request](t, rec)
	if req.PrincipalID != "p1" || req.OrgID != "org-1" {
		t.Errorf("request must inherit caller identity: %+v", req)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/quota/requests?status=pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decodeBody[struct {
		Requests []quota.Request `json:"requests"`
	}](t, rec)
	if len(list.Requests) != 1 {
		t.Errorf("expected 1 pending request, got %d", len(list.Requests))
	}
}

func TestAssistantTurnEndpoint(t *testing.T) {
	f := newFixture(t)

	// Fast path.
	rec := f.do(t, http.MethodPost, "/api/v1/assistant/turns", map[string]any{"utterance": "2+2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[assistant.TurnResponse](t, rec)
	if !resp.FastPath || resp.Content != "4" {
		t.Errorf("unexpected fast-path response: %+v", resp)
	}

	// Full path with the scripted model.
	rec = f.do(t, http.MethodPost, "/api/v1/assistant/turns", map[string]any{"utterance": "how are enrollments?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp = decodeBody[assistant.TurnResponse](t, rec)
	if resp.Content != "scripted answer" {
		t.Errorf("unexpected content: %q", resp.Content)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/assistant/turns", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without utterance, got %d", rec.Code)
	}
}

func TestAssistantTurnUpgradePrompt(t *testing.T) {
	f := newFixture(t)
	f.store.allocs[f.store.key("p1", quota.FeatureChat)].Used = 100

	rec := f.do(t, http.MethodPost, "/api/v1/assistant/turns", map[string]any{"utterance": "summarize things"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody[assistant.TurnResponse](t, rec)
	if !resp.NeedsUpgrade {
		t.Errorf("expected upgrade flag, got %+v", resp)
	}
}

func TestVoiceSessionEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/voice/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[voice.Session](t, rec)
	if sess.Status != voice.StatusStreaming {
		t.Errorf("expected streaming, got %s", sess.Status)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/voice/sessions/"+sess.ID+"/audio", bytes.NewReader([]byte{1, 2, 3}))
	req.Header.Set("X-Org-ID", "org-1")
	req.Header.Set("X-Principal-ID", "p1")
	audioRec := httptest.NewRecorder()
	f.router.ServeHTTP(audioRec, req)
	if audioRec.Code != http.StatusAccepted {
		t.Errorf("expected 202 for audio push, got %d: %s", audioRec.Code, audioRec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/voice/sessions/"+sess.ID+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	sess = decodeBody[voice.Session](t, rec)
	if sess.Status != voice.StatusFinished {
		t.Errorf("expected finished, got %s", sess.Status)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/voice/sessions/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestVoiceSessionQuotaDenied(t *testing.T) {
	f := newFixture(t)
	f.store.allocs[f.store.key("p1", quota.FeatureVoice)].Used = 10

	rec := f.do(t, http.MethodPost, "/api/v1/voice/sessions", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestToolEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tools", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := decodeBody[struct {
		Tools []tool.Spec `json:"tools"`
	}](t, rec)
	if len(list.Tools) != 4 {
		t.Errorf("expected 4 builtin tools, got %d", len(list.Tools))
	}

	rec = f.do(t, http.MethodPost, "/api/v1/tools/list_members/execute", map[string]any{"args": map[string]any{}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[tool.Result](t, rec)
	if !res.Success {
		t.Errorf("execute failed: %s", res.Error)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/tools/nope/execute", map[string]any{"args": map[string]any{}})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown tool, got %d", rec.Code)
	}
}

func TestAPIKeyEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]any{"name": "dashboard"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]any](t, rec)
	if created["key"] == "" || created["prefix"] == "" {
		t.Errorf("expected plaintext key in creation response: %v", created)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/auth/api-keys", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dashboard") {
		t.Errorf("expected key listed: %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without name, got %d", rec.Code)
	}
}
