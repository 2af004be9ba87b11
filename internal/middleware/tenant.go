package middleware

import (
	"context"
	"net/http"
)

// DefaultOrgID is the single-organization default used when no X-Org-ID header is set.
const DefaultOrgID = "00000000-0000-0000-0000-000000000000"

const (
	headerOrgID       = "X-Org-ID"
	headerPrincipalID = "X-Principal-ID"
)

type orgCtxKey struct{}
type principalCtxKey struct{}

// OrgScope is middleware that extracts the organization and principal IDs
// from request headers and stores them in the request context. The org falls
// back to DefaultOrgID if absent; an API key, when present, overrides the
// header via WithOrgID in the auth middleware.
func OrgScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if OrgIDFromContext(ctx) == DefaultOrgID {
			oid := r.Header.Get(headerOrgID)
			if oid == "" {
				oid = DefaultOrgID
			}
			ctx = WithOrgID(ctx, oid)
		}
		if pid := r.Header.Get(headerPrincipalID); pid != "" {
			ctx = WithPrincipalID(ctx, pid)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithOrgID returns a context carrying the given organization ID.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgCtxKey{}, orgID)
}

// OrgIDFromContext returns the organization ID stored in ctx, or DefaultOrgID if absent.
func OrgIDFromContext(ctx context.Context) string {
	if oid, ok := ctx.Value(orgCtxKey{}).(string); ok {
		return oid
	}
	return DefaultOrgID
}

// WithPrincipalID returns a context carrying the given principal ID.
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, principalID)
}

// PrincipalIDFromContext returns the principal ID stored in ctx, or empty if absent.
func PrincipalIDFromContext(ctx context.Context) string {
	pid, _ := ctx.Value(principalCtxKey{}).(string)
	return pid
}
