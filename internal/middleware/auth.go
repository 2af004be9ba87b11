package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/scholaris/scholaris/internal/domain/directory"
)

type apiKeyCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":                 true,
	"/.well-known/agent.json": true,
}

// KeyVerifier checks an API key plaintext and returns the matching record.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, plaintext string) (*directory.APIKey, error)
}

// Auth returns middleware that validates API key credentials and scopes the
// request to the key's organization. When authEnabled is false, requests
// pass through with header-derived scoping only.
func Auth(verifier KeyVerifier, authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			plaintext := r.Header.Get("X-API-Key")
			if plaintext == "" {
				// WebSocket clients cannot set headers; accept ?token=.
				if strings.HasPrefix(r.URL.Path, "/ws") {
					plaintext = r.URL.Query().Get("token")
				}
			}
			if plaintext == "" {
				authHeader := r.Header.Get("Authorization")
				token := strings.TrimPrefix(authHeader, "Bearer ")
				if token != authHeader {
					plaintext = token
				}
			}
			if plaintext == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			key, err := verifier.VerifyAPIKey(r.Context(), plaintext)
			if err != nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithOrgID(r.Context(), key.OrgID)
			ctx = context.WithValue(ctx, apiKeyCtxKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyFromContext returns the API key used for authentication, or nil when
// auth is disabled.
func APIKeyFromContext(ctx context.Context) *directory.APIKey {
	key, _ := ctx.Value(apiKeyCtxKey{}).(*directory.APIKey)
	return key
}
