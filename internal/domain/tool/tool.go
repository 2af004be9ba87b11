// Package tool defines the capability registry exposed to language models.
package tool

import "context"

// RiskTier classifies a tool's blast radius. Medium and high tiers require
// explicit user confirmation before execution; enforcement lives at the
// orchestrator call site so gating stays centralized and auditable.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Executor runs a tool. Implementations return their failure as an error;
// the registry converts both errors and panics into a Result envelope, so a
// failure never propagates to the caller raw.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named, schema-described operation a model can request.
type Tool struct {
	Name                 string
	Description          string
	InputSchema          map[string]any // JSON-schema shaped, forwarded to the model as-is
	Risk                 RiskTier
	RequiresConfirmation bool
	Execute              Executor
}

// Spec is the model-facing view of a tool. No executor internals are exposed.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Result is the structured envelope every execution resolves to.
// Exactly one of Value/Error is populated; Success=false always has Error set.
type Result struct {
	Success bool   `json:"success"`
	Value   any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Scope carries the calling principal's tenancy, injected by the server
// layer. Data-access executors must read scope from the context and never
// trust caller-supplied identifiers for isolation.
type Scope struct {
	OrgID       string
	PrincipalID string
}

type scopeCtxKey struct{}

// WithScope returns a context carrying the caller's tenancy scope.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// ScopeFromContext returns the tenancy scope stored in ctx.
// The zero Scope is returned when none is set.
func ScopeFromContext(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeCtxKey{}).(Scope)
	return s
}
