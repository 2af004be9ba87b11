package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scholaris/scholaris/internal/domain/quota"
)

func (s *Store) RecordUsageEvent(ctx context.Context, ev *quota.UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = time.Now().UTC()

	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal usage metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO usage_events (id, scope_type, scope_id, feature, amount, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.ScopeType, ev.ScopeID, ev.Feature, ev.Amount, meta, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("record usage event: %w", err)
	}
	return nil
}

func (s *Store) ListUsageEvents(ctx context.Context, orgID string, since time.Time) ([]quota.UsageEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, scope_type, scope_id, feature, amount, metadata, created_at
		 FROM usage_events
		 WHERE (scope_id = $1 OR scope_id IN (SELECT id FROM members WHERE org_id = $1))
		   AND created_at >= $2
		 ORDER BY created_at`,
		orgID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer rows.Close()

	var out []quota.UsageEvent
	for rows.Next() {
		var ev quota.UsageEvent
		var meta []byte
		if err := rows.Scan(&ev.ID, &ev.ScopeType, &ev.ScopeID, &ev.Feature, &ev.Amount, &meta, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal usage metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
