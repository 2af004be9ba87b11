//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/scholaris/scholaris/internal/domain/quota"
)

const (
	testOrgID       = "11111111-1111-1111-1111-111111111111"
	testPrincipalID = "it-principal-1"
)

func doRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, testServer.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-ID", testOrgID)
	req.Header.Set("X-Principal-ID", testPrincipalID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// TestQuotaLifecycle walks the full allocation path against the real store:
// allocate, check, consume, deny at the limit, and audit the history.
func TestQuotaLifecycle(t *testing.T) {
	cleanDB(testPool)
	scopeID := "it-lifecycle-1"

	// Allocate 5 chat units
	resp := doRequest(t, http.MethodPost, "/api/v1/quota/allocations", quota.AllocateInput{
		ScopeType: quota.ScopePrincipal,
		ScopeID:   scopeID,
		Feature:   quota.FeatureChat,
		Limit:     5,
		Priority:  quota.PriorityNormal,
		Reason:    "integration test",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allocate: expected 200, got %d", resp.StatusCode)
	}
	alloc := decode[quota.Allocation](t, resp)
	if alloc.Limit != 5 || alloc.Used != 0 {
		t.Fatalf("unexpected allocation: limit=%d used=%d", alloc.Limit, alloc.Used)
	}

	// Pre-check allows
	resp = doRequest(t, http.MethodGet, "/api/v1/quota/check?scope_id="+scopeID+"&feature="+string(quota.FeatureChat), nil)
	check := decode[quota.CheckResult](t, resp)
	if !check.Allowed {
		t.Fatal("expected check to allow with fresh allocation")
	}

	// Consume all 5
	for i := range 5 {
		resp = doRequest(t, http.MethodPost, "/api/v1/quota/usage", map[string]any{
			"scope_type": "principal",
			"scope_id":   scopeID,
			"feature":    quota.FeatureChat,
			"amount":     1,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("usage %d: expected 200, got %d", i, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}

	// Sixth consumption is denied
	resp = doRequest(t, http.MethodPost, "/api/v1/quota/usage", map[string]any{
		"scope_type": "principal",
		"scope_id":   scopeID,
		"feature":    quota.FeatureChat,
		"amount":     1,
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 at the limit, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	// History carries the allocation entry
	resp = doRequest(t, http.MethodGet, "/api/v1/quota/history/"+scopeID, nil)
	hist := decode[struct {
		History []quota.HistoryEntry `json:"history"`
	}](t, resp)
	if len(hist.History) == 0 {
		t.Fatal("expected at least one history entry")
	}
	if hist.History[0].ActorID != testPrincipalID {
		t.Errorf("expected actor %q, got %q", testPrincipalID, hist.History[0].ActorID)
	}
}

// TestQuotaConcurrentConsumption fires parallel consumptions near the limit
// and verifies the store never over-commits.
func TestQuotaConcurrentConsumption(t *testing.T) {
	cleanDB(testPool)
	scopeID := "it-concurrent-1"

	resp := doRequest(t, http.MethodPost, "/api/v1/quota/allocations", quota.AllocateInput{
		ScopeType: quota.ScopePrincipal,
		ScopeID:   scopeID,
		Feature:   quota.FeatureChat,
		Limit:     10,
		Priority:  quota.PriorityNormal,
		Reason:    "integration test",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("allocate: expected 200, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	const workers = 20
	var ok, denied atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()
			var buf bytes.Buffer
			_ = json.NewEncoder(&buf).Encode(map[string]any{
				"scope_type": "principal",
				"scope_id":   scopeID,
				"feature":    quota.FeatureChat,
				"amount":     1,
			})
			req, err := http.NewRequest(http.MethodPost, testServer.URL+"/api/v1/quota/usage", &buf)
			if err != nil {
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Org-ID", testOrgID)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			defer func() { _ = resp.Body.Close() }()
			switch resp.StatusCode {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusTooManyRequests:
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	t.Logf("ok=%d denied=%d", ok.Load(), denied.Load())
	if ok.Load() != 10 {
		t.Errorf("expected exactly 10 consumptions to succeed, got %d", ok.Load())
	}
	if denied.Load() != workers-10 {
		t.Errorf("expected %d denials, got %d", workers-10, denied.Load())
	}

	var used int64
	err := testPool.QueryRow(t.Context(),
		"SELECT used FROM quota_allocations WHERE scope_id = $1 AND feature = $2",
		scopeID, string(quota.FeatureChat)).Scan(&used)
	if err != nil {
		t.Fatalf("read used: %v", err)
	}
	if used != 10 {
		t.Errorf("expected used=10 in the store, got %d", used)
	}
}

// TestQuotaRequestFlow files a self-service request and reads it back.
func TestQuotaRequestFlow(t *testing.T) {
	cleanDB(testPool)

	resp := doRequest(t, http.MethodPost, "/api/v1/quota/requests", map[string]any{
		"feature": quota.FeatureVoice,
		"amount":  50,
		"note":    "parent-teacher conference week",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decode[quota.Request](t, resp)
	if created.Status != quota.RequestPending {
		t.Errorf("expected pending status, got %q", created.Status)
	}
	if created.OrgID != testOrgID {
		t.Errorf("expected org %q from context, got %q", testOrgID, created.OrgID)
	}

	resp = doRequest(t, http.MethodGet, "/api/v1/quota/requests?status=pending", nil)
	list := decode[struct {
		Requests []quota.Request `json:"requests"`
	}](t, resp)
	if len(list.Requests) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(list.Requests))
	}
}

// TestAPIKeyRoundTrip creates a key over HTTP and verifies it lists back
// without exposing the secret.
func TestAPIKeyRoundTrip(t *testing.T) {
	cleanDB(testPool)

	resp := doRequest(t, http.MethodPost, "/api/v1/auth/api-keys", map[string]any{
		"name": "integration-key",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decode[struct {
		Key    string `json:"key"`
		Prefix string `json:"prefix"`
	}](t, resp)
	if created.Key == "" {
		t.Fatal("expected plaintext key in create response")
	}

	resp = doRequest(t, http.MethodGet, "/api/v1/auth/api-keys", nil)
	list := decode[struct {
		Keys []struct {
			Name   string `json:"name"`
			Prefix string `json:"prefix"`
			Secret string `json:"secret"`
		} `json:"keys"`
	}](t, resp)
	if len(list.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(list.Keys))
	}
	if list.Keys[0].Prefix != created.Prefix {
		t.Errorf("prefix mismatch: %q vs %q", list.Keys[0].Prefix, created.Prefix)
	}
	if list.Keys[0].Secret != "" {
		t.Error("secret hash must not be serialized")
	}
}

// TestBuiltinToolAgainstStore seeds a member row and executes list_members
// through the HTTP tool surface.
func TestBuiltinToolAgainstStore(t *testing.T) {
	cleanDB(testPool)
	ctx := t.Context()

	for i := range 3 {
		_, err := testPool.Exec(ctx,
			`INSERT INTO members (id, org_id, name, role) VALUES ($1, $2, $3, 'teacher')`,
			fmt.Sprintf("it-member-%d", i), testOrgID, fmt.Sprintf("Teacher %d", i))
		if err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, "DELETE FROM members WHERE org_id = $1", testOrgID)
	})

	resp := doRequest(t, http.MethodPost, "/api/v1/tools/list_members/execute", map[string]any{
		"args": map[string]any{},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	res := decode[struct {
		Success bool `json:"success"`
		Value   struct {
			Count int `json:"count"`
		} `json:"result"`
	}](t, resp)
	if !res.Success {
		t.Fatal("expected tool success")
	}
	if res.Value.Count != 3 {
		t.Errorf("expected 3 members, got %d", res.Value.Count)
	}
}
