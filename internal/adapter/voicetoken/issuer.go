// Package voicetoken fetches short-lived streaming credentials from an
// external token endpoint before a voice session opens its channel.
package voicetoken

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scholaris/scholaris/internal/port/voicetransport"
)

// Issuer mints ephemeral credentials by POSTing to a token endpoint.
type Issuer struct {
	tokenURL   string
	apiKey     string
	httpClient *http.Client
}

// NewIssuer creates a credential issuer for the given token endpoint.
func NewIssuer(tokenURL, apiKey string, timeout time.Duration) *Issuer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Issuer{
		tokenURL: strings.TrimRight(tokenURL, "/"),
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type tokenRequest struct {
	OrgID     string `json:"org_id"`
	SessionID string `json:"session_id"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Endpoint  string    `json:"endpoint"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue requests a fresh credential scoped to one session.
func (i *Issuer) Issue(ctx context.Context, orgID, sessionID string) (voicetransport.Credential, error) {
	body, err := json.Marshal(tokenRequest{OrgID: orgID, SessionID: sessionID})
	if err != nil {
		return voicetransport.Credential{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.tokenURL, bytes.NewReader(body))
	if err != nil {
		return voicetransport.Credential{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if i.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return voicetransport.Credential{}, fmt.Errorf("token endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return voicetransport.Credential{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return voicetransport.Credential{}, fmt.Errorf("decode token response: %w", err)
	}
	if tok.Token == "" {
		return voicetransport.Credential{}, fmt.Errorf("token endpoint returned empty token")
	}

	return voicetransport.Credential{
		Token:     tok.Token,
		Endpoint:  tok.Endpoint,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}
