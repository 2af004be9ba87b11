package service

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/scholaris/scholaris/internal/config"
)

func authFixture() (*AuthService, *mockStore) {
	store := newMockStore()
	// MinCost keeps the hashing fast in tests.
	return NewAuthService(store, &config.Auth{Enabled: true, BcryptCost: bcrypt.MinCost}), store
}

func TestCreateAndVerifyAPIKey(t *testing.T) {
	svc, _ := authFixture()
	ctx := context.Background()

	plaintext, key, err := svc.CreateAPIKey(ctx, "org-1", "dashboard")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(plaintext, "sch_") {
		t.Errorf("unexpected key format: %q", plaintext)
	}
	if key.Prefix != plaintext[:8] {
		t.Errorf("prefix mismatch: %q vs %q", key.Prefix, plaintext[:8])
	}
	if key.Secret == plaintext || key.Secret == "" {
		t.Error("secret must be a hash, never the plaintext")
	}

	verified, err := svc.VerifyAPIKey(ctx, plaintext)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.OrgID != "org-1" || verified.Name != "dashboard" {
		t.Errorf("unexpected key: %+v", verified)
	}
}

func TestVerifyAPIKeyRejectsWrongSecret(t *testing.T) {
	svc, _ := authFixture()
	ctx := context.Background()

	plaintext, _, err := svc.CreateAPIKey(ctx, "org-1", "a")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Same prefix, different tail.
	forged := plaintext[:8] + strings.Repeat("0", len(plaintext)-8)
	if _, err := svc.VerifyAPIKey(ctx, forged); err == nil {
		t.Error("forged key must not verify")
	}

	if _, err := svc.VerifyAPIKey(ctx, "sch_nope"); err == nil {
		t.Error("unknown prefix must not verify")
	}
	if _, err := svc.VerifyAPIKey(ctx, ""); err == nil {
		t.Error("empty key must not verify")
	}
}

func TestVerifyAPIKeyDisabled(t *testing.T) {
	svc, store := authFixture()
	ctx := context.Background()

	plaintext, key, err := svc.CreateAPIKey(ctx, "org-1", "old")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.mu.Lock()
	store.keys[key.Prefix].Disabled = true
	store.mu.Unlock()

	if _, err := svc.VerifyAPIKey(ctx, plaintext); err == nil {
		t.Error("disabled key must not verify")
	}
}

func TestListAPIKeys(t *testing.T) {
	svc, _ := authFixture()
	ctx := context.Background()

	if _, _, err := svc.CreateAPIKey(ctx, "org-1", "a"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateAPIKey(ctx, "org-2", "b"); err != nil {
		t.Fatalf("create: %v", err)
	}

	keys, err := svc.ListAPIKeys(ctx, "org-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0].Name != "a" {
		t.Errorf("unexpected keys: %+v", keys)
	}
}
