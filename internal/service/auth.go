// Package service implements the application services on top of the ports.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/scholaris/scholaris/internal/config"
	"github.com/scholaris/scholaris/internal/domain"
	"github.com/scholaris/scholaris/internal/domain/directory"
	"github.com/scholaris/scholaris/internal/port/database"
)

// keyPrefixLen is how many leading plaintext characters are stored for lookup.
const keyPrefixLen = 8

// AuthService issues and verifies API keys.
type AuthService struct {
	store database.Store
	cfg   *config.Auth
}

// NewAuthService creates a new authentication service.
func NewAuthService(store database.Store, cfg *config.Auth) *AuthService {
	return &AuthService{store: store, cfg: cfg}
}

// CreateAPIKey mints a new key for an organization. The plaintext is returned
// exactly once; only its bcrypt hash is persisted.
func (s *AuthService) CreateAPIKey(ctx context.Context, orgID, name string) (string, *directory.APIKey, error) {
	if orgID == "" {
		return "", nil, errors.New("org id is required")
	}
	if name == "" {
		return "", nil, errors.New("name is required")
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	plaintext := "sch_" + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.cfg.BcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key: %w", err)
	}

	key := &directory.APIKey{
		OrgID:  orgID,
		Name:   name,
		Prefix: plaintext[:keyPrefixLen],
		Secret: string(hash),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}
	return plaintext, key, nil
}

// VerifyAPIKey checks a plaintext key against the stored hash.
func (s *AuthService) VerifyAPIKey(ctx context.Context, plaintext string) (*directory.APIKey, error) {
	if len(plaintext) < keyPrefixLen {
		return nil, errors.New("invalid api key")
	}

	key, err := s.store.GetAPIKeyByPrefix(ctx, plaintext[:keyPrefixLen])
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errors.New("invalid api key")
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if key.Disabled {
		return nil, errors.New("api key disabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.Secret), []byte(plaintext)); err != nil {
		return nil, errors.New("invalid api key")
	}
	return key, nil
}

// ListAPIKeys returns all keys for an organization (hashes included, never
// serialized thanks to the json tag on Secret).
func (s *AuthService) ListAPIKeys(ctx context.Context, orgID string) ([]directory.APIKey, error) {
	return s.store.ListAPIKeys(ctx, orgID)
}
