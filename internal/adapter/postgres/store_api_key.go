package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/directory"
)

func (s *Store) CreateAPIKey(ctx context.Context, key *directory.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, org_id, name, prefix, secret_hash, disabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.OrgID, key.Name, key.Prefix, key.Secret, key.Disabled, key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create api key: %w", domain.ErrConflict)
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*directory.APIKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, org_id, name, prefix, secret_hash, disabled, created_at
		 FROM api_keys WHERE prefix = $1`,
		prefix)

	var key directory.APIKey
	err := row.Scan(&key.ID, &key.OrgID, &key.Name, &key.Prefix, &key.Secret, &key.Disabled, &key.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get api key")
	}
	return &key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, orgID string) ([]directory.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, org_id, name, prefix, secret_hash, disabled, created_at
		 FROM api_keys WHERE org_id = $1 ORDER BY created_at`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []directory.APIKey
	for rows.Next() {
		var key directory.APIKey
		if err := rows.Scan(&key.ID, &key.OrgID, &key.Name, &key.Prefix, &key.Secret, &key.Disabled, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
