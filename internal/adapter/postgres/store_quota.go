package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/quota"
)

const allocationColumns = `id, scope_type, scope_id, feature, period_start, period_end, "limit", used, priority, auto_renew, created_at, updated_at`

func scanAllocation(row scannable) (quota.Allocation, error) {
	var a quota.Allocation
	err := row.Scan(&a.ID, &a.ScopeType, &a.ScopeID, &a.Feature, &a.PeriodStart, &a.PeriodEnd,
		&a.Limit, &a.Used, &a.Priority, &a.AutoRenew, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) GetAllocation(ctx context.Context, scopeID string, feature quota.Feature, at time.Time) (*quota.Allocation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+allocationColumns+`
		 FROM quota_allocations
		 WHERE scope_id = $1 AND feature = $2 AND period_start <= $3 AND period_end > $3`,
		scopeID, feature, at.UTC())

	a, err := scanAllocation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get allocation %s/%s", scopeID, feature)
	}
	return &a, nil
}

func (s *Store) UpsertAllocation(ctx context.Context, in quota.AllocateInput, periodStart, periodEnd time.Time) (*quota.Allocation, error) {
	now := time.Now().UTC()
	priority := in.Priority
	if priority == "" {
		priority = quota.PriorityNormal
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO quota_allocations (id, scope_type, scope_id, feature, period_start, period_end, "limit", used, priority, auto_renew, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $10)
		 ON CONFLICT (scope_id, feature, period_start) DO UPDATE
		 SET "limit" = EXCLUDED."limit",
		     priority = EXCLUDED.priority,
		     auto_renew = EXCLUDED.auto_renew,
		     updated_at = EXCLUDED.updated_at
		 RETURNING `+allocationColumns,
		uuid.NewString(), in.ScopeType, in.ScopeID, in.Feature, periodStart.UTC(), periodEnd.UTC(),
		in.Limit, priority, in.AutoRenew, now)

	a, err := scanAllocation(row)
	if err != nil {
		return nil, fmt.Errorf("upsert allocation %s/%s: %w", in.ScopeID, in.Feature, err)
	}
	return &a, nil
}

// ConsumeUsage increments used with a single conditional update. The
// predicate admits the increment only while used+amount stays within
// limit, or unconditionally for high-priority allocations.
func (s *Store) ConsumeUsage(ctx context.Context, scopeID string, feature quota.Feature, amount int64, at time.Time) (*quota.Allocation, error) {
	at = at.UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE quota_allocations
		 SET used = used + $1, updated_at = now()
		 WHERE scope_id = $2 AND feature = $3
		   AND period_start <= $4 AND period_end > $4
		   AND (used + $1 <= "limit" OR priority = 'high')
		 RETURNING `+allocationColumns,
		amount, scopeID, feature, at)

	a, err := scanAllocation(row)
	if err == nil {
		return &a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume usage %s/%s: %w", scopeID, feature, err)
	}

	// No row updated: either the allocation is missing or the increment
	// would cross the limit. Tell the two apart for the caller.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM quota_allocations
		   WHERE scope_id = $1 AND feature = $2 AND period_start <= $3 AND period_end > $3)`,
		scopeID, feature, at).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("consume usage %s/%s: %w", scopeID, feature, err)
	}
	if !exists {
		return nil, fmt.Errorf("consume usage %s/%s: %w", scopeID, feature, domain.ErrNotFound)
	}
	return nil, fmt.Errorf("consume usage %s/%s: %w", scopeID, feature, quota.ErrExceeded)
}

func (s *Store) ListAllocations(ctx context.Context, orgID string, at time.Time) ([]quota.Allocation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+allocationColumns+`
		 FROM quota_allocations
		 WHERE (scope_id = $1 OR scope_id IN (SELECT id FROM members WHERE org_id = $1))
		   AND period_start <= $2 AND period_end > $2
		 ORDER BY scope_id, feature`,
		orgID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []quota.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AppendHistory(ctx context.Context, entry *quota.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_history (id, actor_id, scope_type, scope_id, feature, delta, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.ActorID, entry.ScopeType, entry.ScopeID, entry.Feature, entry.Delta, entry.Reason, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *Store) ListHistory(ctx context.Context, scopeID string, limit int) ([]quota.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, actor_id, scope_type, scope_id, feature, delta, reason, created_at
		 FROM quota_history WHERE scope_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []quota.HistoryEntry
	for rows.Next() {
		var e quota.HistoryEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ScopeType, &e.ScopeID, &e.Feature, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateQuotaRequest(ctx context.Context, req *quota.Request) (*quota.Request, error) {
	req.ID = uuid.NewString()
	req.Status = quota.RequestPending
	req.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_requests (id, principal_id, org_id, feature, amount, note, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.PrincipalID, req.OrgID, req.Feature, req.Amount, req.Note, req.Status, req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create quota request: %w", err)
	}
	return req, nil
}

func (s *Store) ListQuotaRequests(ctx context.Context, orgID string, status quota.RequestStatus) ([]quota.Request, error) {
	q := `SELECT id, principal_id, org_id, feature, amount, note, status, created_at
	      FROM quota_requests WHERE org_id = $1`
	args := []any{orgID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list quota requests: %w", err)
	}
	defer rows.Close()

	var out []quota.Request
	for rows.Next() {
		var r quota.Request
		if err := rows.Scan(&r.ID, &r.PrincipalID, &r.OrgID, &r.Feature, &r.Amount, &r.Note, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quota request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
