package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/directory"
	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/port/messagequeue"
)

// mockStore is an in-memory database.Store. ConsumeUsage mirrors the real
// store's conditional-update semantics under a mutex so concurrency tests
// exercise the same contract.
type mockStore struct {
	mu       sync.Mutex
	allocs   map[string]*quota.Allocation // scopeID/feature
	history  []quota.HistoryEntry
	events   []quota.UsageEvent
	requests []quota.Request
	members  []directory.Member
	progress map[string]*directory.Progress
	invoice  *directory.InvoiceSummary
	keys     map[string]*directory.APIKey
}

func newMockStore() *mockStore {
	return &mockStore{
		allocs:   make(map[string]*quota.Allocation),
		progress: make(map[string]*directory.Progress),
		keys:     make(map[string]*directory.APIKey),
	}
}

func allocKey(scopeID string, f quota.Feature) string { return scopeID + "/" + string(f) }

func (m *mockStore) seedAllocation(a quota.Allocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.allocs[allocKey(a.ScopeID, a.Feature)] = &cp
}

func (m *mockStore) GetAllocation(_ context.Context, scopeID string, f quota.Feature, at time.Time) (*quota.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocs[allocKey(scopeID, f)]
	if !ok || !a.Active(at) {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) UpsertAllocation(_ context.Context, in quota.AllocateInput, start, end time.Time) (*quota.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := allocKey(in.ScopeID, in.Feature)
	a, ok := m.allocs[key]
	if !ok || !a.PeriodStart.Equal(start) {
		a = &quota.Allocation{
			ID:          uuid.NewString(),
			ScopeType:   in.ScopeType,
			ScopeID:     in.ScopeID,
			Feature:     in.Feature,
			PeriodStart: start,
			PeriodEnd:   end,
		}
		m.allocs[key] = a
	}
	a.Limit = in.Limit
	a.Priority = in.Priority
	a.AutoRenew = in.AutoRenew
	cp := *a
	return &cp, nil
}

func (m *mockStore) ConsumeUsage(_ context.Context, scopeID string, f quota.Feature, amount int64, at time.Time) (*quota.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocs[allocKey(scopeID, f)]
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

func (m *mockStore) AppendHistory(_ context.Context, e *quota.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *e)
	return nil
}

func (m *mockStore) ListHistory(_ context.Context, scopeID string, limit int) ([]quota.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quota.HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ScopeID == scopeID {
			out = append(out, m.history[i])
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) RecordUsageEvent(_ context.Context, ev *quota.UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockStore) ListUsageEvents(_ context.Context, _ string, _ time.Time) ([]quota.UsageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]quota.UsageEvent(nil), m.events...), nil
}

func (m *mockStore) CreateQuotaRequest(_ context.Context, req *quota.Request) (*quota.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	cp.ID = uuid.NewString()
	cp.Status = quota.RequestPending
	cp.CreatedAt = time.Now()
	m.requests = append(m.requests, cp)
	return &cp, nil
}

func (m *mockStore) ListQuotaRequests(_ context.Context, orgID string, status quota.RequestStatus) ([]quota.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quota.Request
	for _, r := range m.requests {
		if r.OrgID == orgID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) ListAllocations(_ context.Context, _ string, at time.Time) ([]quota.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quota.Allocation
	for _, a := range m.allocs {
		if a.Active(at) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockStore) ListMembers(_ context.Context, orgID string) ([]directory.Member, error) {
	var out []directory.Member
	for _, mem := range m.members {
		if mem.OrgID == orgID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *mockStore) GetStudentProgress(_ context.Context, orgID, studentID string) (*directory.Progress, error) {
	p, ok := m.progress[orgID+"/"+studentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (m *mockStore) GetInvoiceSummary(_ context.Context, orgID string) (*directory.InvoiceSummary, error) {
	if m.invoice == nil || m.invoice.OrgID != orgID {
		return nil, domain.ErrNotFound
	}
	return m.invoice, nil
}

func (m *mockStore) CreateAPIKey(_ context.Context, key *directory.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.keys[key.Prefix]; exists {
		return domain.ErrConflict
	}
	cp := *key
	m.keys[key.Prefix] = &cp
	return nil
}

func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) (*directory.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[prefix]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *mockStore) ListAPIKeys(_ context.Context, orgID string) ([]directory.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []directory.APIKey
	for _, k := range m.keys {
		if k.OrgID == orgID {
			out = append(out, *k)
		}
	}
	return out, nil
}

// mockQueue records published messages.
type mockQueue struct {
	mu        sync.Mutex
	published []publishedMsg
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedMsg{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}
func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.published))
	for _, p := range q.published {
		out = append(out, p.subject)
	}
	return out
}

// mockCache is a TTL-less in-memory cache.
type mockCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	hits    int
}

func newMockCache() *mockCache { return &mockCache{entries: make(map[string][]byte)} }

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// mockBroadcaster records broadcast events.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	orgID     string
	eventType string
	payload   any
}

func (b *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{"", eventType, payload})
}

func (b *mockBroadcaster) BroadcastEventToOrg(_ context.Context, orgID, eventType string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{orgID, eventType, payload})
}

func (b *mockBroadcaster) ofType(eventType string) []broadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastEvent
	for _, e := range b.events {
		if e.eventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
