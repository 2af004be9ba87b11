package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scholaris/scholaris/internal/config"
	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/port/broadcast"
	"github.com/scholaris/scholaris/internal/port/cache"
	"github.com/scholaris/scholaris/internal/port/database"
	"github.com/scholaris/scholaris/internal/port/messagequeue"
)

// QuotaService is the authority on allocation and consumption of metered
// features. All increments go through the store's conditional update; the
// service never computes used+amount itself.
type QuotaService struct {
	store database.Store
	queue messagequeue.Queue
	cache cache.Cache
	bcast broadcast.Broadcaster
	cfg   config.Quota
}

// NewQuotaService creates a quota service. queue, cache, and bcast may be nil
// in tests; the service degrades to store-only behavior.
func NewQuotaService(store database.Store, queue messagequeue.Queue, c cache.Cache, bcast broadcast.Broadcaster, cfg config.Quota) *QuotaService {
	return &QuotaService{store: store, queue: queue, cache: c, bcast: bcast, cfg: cfg}
}

func checkCacheKey(scopeID string, feature quota.Feature) string {
	return "quota:" + scopeID + ":" + string(feature)
}

// checkView is the cached slice of an allocation a pre-check needs. The
// verdict is computed per call, so one cached view answers any amount.
type checkView struct {
	Found    bool           `json:"found"`
	Used     int64          `json:"used"`
	Limit    int64          `json:"limit"`
	Priority quota.Priority `json:"priority"`
}

func (v checkView) result(feature quota.Feature, amount int64) *quota.CheckResult {
	if !v.Found {
		// No allocation means the feature is not provisioned for this
		// scope; the caller should be offered an upgrade path.
		return &quota.CheckResult{Allowed: false, RequiresUpgrade: true, Feature: feature}
	}
	res := &quota.CheckResult{
		Allowed: v.Used+amount <= v.Limit || v.Priority == quota.PriorityHigh,
		Used:    v.Used,
		Limit:   v.Limit,
		Feature: feature,
	}
	if !res.Allowed {
		res.RequiresUpgrade = true
	}
	return res
}

// CheckAllowed answers a read-only consumption pre-check: would recording
// amount units succeed right now. Amounts below one check a single unit.
// Allocation views are cached briefly; RecordUsage and Allocate invalidate
// them.
func (s *QuotaService) CheckAllowed(ctx context.Context, scopeID string, feature quota.Feature, amount int64) (*quota.CheckResult, error) {
	if !feature.Valid() {
		return nil, fmt.Errorf("unknown feature %q", feature)
	}
	if amount <= 0 {
		amount = 1
	}

	key := checkCacheKey(scopeID, feature)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var view checkView
			if err := json.Unmarshal(data, &view); err == nil {
				return view.result(feature, amount), nil
			}
		}
	}

	var view checkView
	alloc, err := s.activeAllocation(ctx, scopeID, feature, time.Now())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		view = checkView{Found: true, Used: alloc.Used, Limit: alloc.Limit, Priority: alloc.Priority}
	}

	if s.cache != nil {
		if data, err := json.Marshal(view); err == nil {
			_ = s.cache.Set(ctx, key, data, s.cfg.CheckTTL)
		}
	}
	return view.result(feature, amount), nil
}

// UsageRecord describes one consumption to record.
type UsageRecord struct {
	ScopeType quota.ScopeType   `json:"scope_type"`
	ScopeID   string            `json:"scope_id"`
	Feature   quota.Feature     `json:"feature"`
	Amount    int64             `json:"amount"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RecordUsage consumes quota. The increment happens exactly once via the
// store's conditional update; a rejection leaves used untouched and is
// published for observers.
func (s *QuotaService) RecordUsage(ctx context.Context, rec UsageRecord) (*quota.Allocation, error) {
	if !rec.Feature.Valid() {
		return nil, fmt.Errorf("unknown feature %q", rec.Feature)
	}
	if rec.Amount <= 0 {
		rec.Amount = 1
	}

	now := time.Now()
	alloc, err := s.store.ConsumeUsage(ctx, rec.ScopeID, rec.Feature, rec.Amount, now)
	if errors.Is(err, domain.ErrNotFound) {
		// The period may have rolled over on an auto-renewing allocation.
		if renewed := s.tryAutoRenew(ctx, rec.ScopeID, rec.Feature, now); renewed {
			alloc, err = s.store.ConsumeUsage(ctx, rec.ScopeID, rec.Feature, rec.Amount, now)
		}
	}
	if err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			s.publishRejected(ctx, rec)
		}
		return nil, err
	}

	ev := &quota.UsageEvent{
		ScopeType: rec.ScopeType,
		ScopeID:   rec.ScopeID,
		Feature:   rec.Feature,
		Amount:    rec.Amount,
		Metadata:  rec.Metadata,
	}
	if err := s.store.RecordUsageEvent(ctx, ev); err != nil {
		slog.Warn("record usage event failed", "scope_id", rec.ScopeID, "error", err)
	}

	s.invalidate(ctx, rec.ScopeID, rec.Feature)
	s.publish(ctx, messagequeue.SubjectUsageRecorded, ev)
	return alloc, nil
}

// tryAutoRenew provisions the current period from the previous period's
// allocation when auto-renew is set. Returns true when a new period row exists.
func (s *QuotaService) tryAutoRenew(ctx context.Context, scopeID string, feature quota.Feature, now time.Time) bool {
	start, _ := quota.PeriodFor(now)
	prev, err := s.store.GetAllocation(ctx, scopeID, feature, start.Add(-time.Second))
	if err != nil || !prev.AutoRenew {
		return false
	}

	end := start.AddDate(0, 1, 0)
	_, err = s.store.UpsertAllocation(ctx, quota.AllocateInput{
		ScopeType: prev.ScopeType,
		ScopeID:   prev.ScopeID,
		Feature:   prev.Feature,
		Limit:     prev.Limit,
		Priority:  prev.Priority,
		AutoRenew: true,
	}, start, end)
	if err != nil {
		slog.Error("auto-renew failed", "scope_id", scopeID, "feature", feature, "error", err)
		return false
	}

	entry := &quota.HistoryEntry{
		ActorID:   "system",
		ScopeType: prev.ScopeType,
		ScopeID:   prev.ScopeID,
		Feature:   prev.Feature,
		Delta:     prev.Limit,
		Reason:    "auto-renew",
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		slog.Warn("append auto-renew history failed", "scope_id", scopeID, "error", err)
	}

	slog.Info("allocation auto-renewed", "scope_id", scopeID, "feature", feature, "limit", prev.Limit)
	return true
}

// activeAllocation fetches the current period's allocation, lazily renewing
// an auto-renew allocation whose period rolled over.
func (s *QuotaService) activeAllocation(ctx context.Context, scopeID string, feature quota.Feature, now time.Time) (*quota.Allocation, error) {
	alloc, err := s.store.GetAllocation(ctx, scopeID, feature, now)
	if errors.Is(err, domain.ErrNotFound) {
		if s.tryAutoRenew(ctx, scopeID, feature, now) {
			return s.store.GetAllocation(ctx, scopeID, feature, now)
		}
	}
	return alloc, err
}

// Allocate creates or updates an allocation for the current period and
// appends an audit record.
func (s *QuotaService) Allocate(ctx context.Context, actorID string, in quota.AllocateInput) (*quota.Allocation, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	now := time.Now()
	start, end := quota.PeriodFor(now)

	prevLimit := int64(0)
	if prev, err := s.store.GetAllocation(ctx, in.ScopeID, in.Feature, now); err == nil {
		prevLimit = prev.Limit
	}

	alloc, err := s.store.UpsertAllocation(ctx, in, start, end)
	if err != nil {
		return nil, err
	}

	entry := &quota.HistoryEntry{
		ActorID:   actorID,
		ScopeType: in.ScopeType,
		ScopeID:   in.ScopeID,
		Feature:   in.Feature,
		Delta:     in.Limit - prevLimit,
		Reason:    in.Reason,
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		slog.Warn("append allocation history failed", "scope_id", in.ScopeID, "error", err)
	}

	s.invalidate(ctx, in.ScopeID, in.Feature)
	s.publish(ctx, messagequeue.SubjectAllocated, alloc)
	return alloc, nil
}

// BulkAllocate applies many allocate operations. Failure is per-item;
// successful scopes are never rolled back because an item for an unrelated
// scope failed.
func (s *QuotaService) BulkAllocate(ctx context.Context, actorID string, items []quota.AllocateInput) []quota.BulkResult {
	results := make([]quota.BulkResult, 0, len(items))
	for _, in := range items {
		res := quota.BulkResult{ScopeID: in.ScopeID, Feature: in.Feature}
		if _, err := s.Allocate(ctx, actorID, in); err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
		}
		results = append(results, res)
	}
	return results
}

// RequestAllocation files a self-service quota request. It grants nothing by
// itself.
func (s *QuotaService) RequestAllocation(ctx context.Context, req *quota.Request) (*quota.Request, error) {
	if req.PrincipalID == "" {
		return nil, errors.New("principal_id is required")
	}
	if !req.Feature.Valid() {
		return nil, fmt.Errorf("unknown feature %q", req.Feature)
	}
	if req.Amount <= 0 {
		return nil, errors.New("amount must be > 0")
	}

	created, err := s.store.CreateQuotaRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, messagequeue.SubjectAllocationAsked, created)
	return created, nil
}

// ListRequests returns an organization's quota requests, optionally filtered
// by status.
func (s *QuotaService) ListRequests(ctx context.Context, orgID string, status quota.RequestStatus) ([]quota.Request, error) {
	return s.store.ListQuotaRequests(ctx, orgID, status)
}

// History returns the allocation audit trail for a scope, newest first.
func (s *QuotaService) History(ctx context.Context, scopeID string, limit int) ([]quota.HistoryEntry, error) {
	return s.store.ListHistory(ctx, scopeID, limit)
}

// Suggestions derives advisory rebalancing recommendations from current
// allocations and recent usage. Best effort; an error yields no suggestions
// rather than failing the caller.
func (s *QuotaService) Suggestions(ctx context.Context, orgID string) ([]quota.Suggestion, error) {
	now := time.Now()
	allocs, err := s.store.ListAllocations(ctx, orgID, now)
	if err != nil {
		return nil, err
	}

	var out []quota.Suggestion
	for _, a := range allocs {
		if a.Limit <= 0 {
			continue
		}
		util := float64(a.Used) / float64(a.Limit)
		switch {
		case util >= 0.9:
			out = append(out, quota.Suggestion{
				ScopeID:     a.ScopeID,
				Feature:     a.Feature,
				Utilization: util,
				Action:      "increase",
				Detail:      fmt.Sprintf("%s is at %.0f%% of its %s limit", a.ScopeID, util*100, a.Feature),
			})
		case util < s.cfg.SuggestMinUsage:
			out = append(out, quota.Suggestion{
				ScopeID:     a.ScopeID,
				Feature:     a.Feature,
				Utilization: util,
				Action:      "decrease",
				Detail:      fmt.Sprintf("%s used only %.0f%% of its %s limit", a.ScopeID, util*100, a.Feature),
			})
		}
	}
	return out, nil
}

func (s *QuotaService) invalidate(ctx context.Context, scopeID string, feature quota.Feature) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, checkCacheKey(scopeID, feature)); err != nil {
		slog.Debug("quota cache invalidation failed", "scope_id", scopeID, "error", err)
	}
}

func (s *QuotaService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal quota event", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish quota event failed", "subject", subject, "error", err)
	}
}

func (s *QuotaService) publishRejected(ctx context.Context, rec UsageRecord) {
	s.publish(ctx, messagequeue.SubjectUsageRejected, rec)
	if s.bcast != nil {
		res, err := s.CheckAllowed(ctx, rec.ScopeID, rec.Feature, rec.Amount)
		if err != nil {
			return
		}
		s.bcast.BroadcastEventToOrg(ctx, orgForScope(rec), "quota.denied", map[string]any{
			"scope_id": rec.ScopeID,
			"feature":  rec.Feature,
			"used":     res.Used,
			"limit":    res.Limit,
		})
	}
}

// orgForScope picks the organization an event belongs to. Organization-level
// scopes are their own org; principal scopes carry the org in metadata.
func orgForScope(rec UsageRecord) string {
	if rec.ScopeType == quota.ScopeOrganization {
		return rec.ScopeID
	}
	return rec.Metadata["org_id"]
}
