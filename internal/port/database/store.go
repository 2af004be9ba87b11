// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/scholaris/scholaris/internal/domain/directory"
	"github.com/scholaris/scholaris/internal/domain/quota"
)

// Store is the port interface for database operations.
type Store interface {
	// Quota allocations
	GetAllocation(ctx context.Context, scopeID string, feature quota.Feature, at time.Time) (*quota.Allocation, error)
	UpsertAllocation(ctx context.Context, in quota.AllocateInput, periodStart, periodEnd time.Time) (*quota.Allocation, error)

	// ConsumeUsage atomically increments used for the active allocation.
	// The increment must be a single conditional update: it succeeds only
	// when used+amount <= limit or the allocation is high priority, and
	// returns quota.ErrExceeded otherwise. No read-modify-write in
	// application code.
	ConsumeUsage(ctx context.Context, scopeID string, feature quota.Feature, amount int64, at time.Time) (*quota.Allocation, error)

	// Audit trail
	AppendHistory(ctx context.Context, entry *quota.HistoryEntry) error
	ListHistory(ctx context.Context, scopeID string, limit int) ([]quota.HistoryEntry, error)

	// Usage events
	RecordUsageEvent(ctx context.Context, ev *quota.UsageEvent) error
	ListUsageEvents(ctx context.Context, orgID string, since time.Time) ([]quota.UsageEvent, error)

	// Self-service allocation requests
	CreateQuotaRequest(ctx context.Context, req *quota.Request) (*quota.Request, error)
	ListQuotaRequests(ctx context.Context, orgID string, status quota.RequestStatus) ([]quota.Request, error)

	// Organization allocations overview (for suggestions and admin views)
	ListAllocations(ctx context.Context, orgID string, at time.Time) ([]quota.Allocation, error)

	// Directory read models consumed by data-access tools
	ListMembers(ctx context.Context, orgID string) ([]directory.Member, error)
	GetStudentProgress(ctx context.Context, orgID, studentID string) (*directory.Progress, error)
	GetInvoiceSummary(ctx context.Context, orgID string) (*directory.InvoiceSummary, error)

	// API keys
	CreateAPIKey(ctx context.Context, key *directory.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) (*directory.APIKey, error)
	ListAPIKeys(ctx context.Context, orgID string) ([]directory.APIKey, error)
}
