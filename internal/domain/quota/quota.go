// Package quota defines allocation and consumption types for metered features.
package quota

import (
	"errors"
	"time"
)

// ErrExceeded indicates a consumption attempt would push used past limit.
var ErrExceeded = errors.New("quota exceeded")

// Feature identifies a metered capability of the platform.
type Feature string

// Metered features.
const (
	FeatureChat      Feature = "assistant.chat"
	FeatureVoice     Feature = "assistant.voice"
	FeatureReports   Feature = "reports.export"
	FeatureBroadcast Feature = "messages.broadcast"
)

// KnownFeatures lists every metered feature, in display order.
var KnownFeatures = []Feature{FeatureChat, FeatureVoice, FeatureReports, FeatureBroadcast}

// Valid reports whether f is a known feature.
func (f Feature) Valid() bool {
	for _, k := range KnownFeatures {
		if f == k {
			return true
		}
	}
	return false
}

// ScopeType distinguishes principal-level from organization-level allocations.
type ScopeType string

const (
	ScopePrincipal    ScopeType = "principal"
	ScopeOrganization ScopeType = "organization"
)

// Priority controls overage behavior: high-priority scopes may exceed limit.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Allocation is a limit on consumption of a feature for one scope and period.
// Used never exceeds Limit after a successful consumption unless the
// allocation is high priority.
type Allocation struct {
	ID          string    `json:"id"`
	ScopeType   ScopeType `json:"scope_type"`
	ScopeID     string    `json:"scope_id"`
	Feature     Feature   `json:"feature"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Limit       int64     `json:"limit"`
	Used        int64     `json:"used"`
	Priority    Priority  `json:"priority"`
	AutoRenew   bool      `json:"auto_renew"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Active reports whether the allocation's period covers t.
func (a *Allocation) Active(t time.Time) bool {
	return !t.Before(a.PeriodStart) && t.Before(a.PeriodEnd)
}

// Remaining returns limit minus used, floored at zero.
func (a *Allocation) Remaining() int64 {
	if a.Used >= a.Limit {
		return 0
	}
	return a.Limit - a.Used
}

// CheckResult is the read-only answer to a consumption pre-check.
type CheckResult struct {
	Allowed         bool    `json:"allowed"`
	Used            int64   `json:"used"`
	Limit           int64   `json:"limit"`
	RequiresUpgrade bool    `json:"requires_upgrade"`
	Feature         Feature `json:"feature"`
}

// HistoryEntry is an immutable audit record of an allocation change.
// Append-only; never mutated.
type HistoryEntry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	ScopeType ScopeType `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	Feature   Feature   `json:"feature"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageEvent records a single consumption. Feeds both the ledger increment
// and the advisory optimization analysis.
type UsageEvent struct {
	ID        string            `json:"id"`
	ScopeType ScopeType         `json:"scope_type"`
	ScopeID   string            `json:"scope_id"`
	Feature   Feature           `json:"feature"`
	Amount    int64             `json:"amount"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AllocateInput describes one allocate operation.
type AllocateInput struct {
	ScopeType ScopeType `json:"scope_type"`
	ScopeID   string    `json:"scope_id"`
	Feature   Feature   `json:"feature"`
	Limit     int64     `json:"limit"`
	Priority  Priority  `json:"priority"`
	AutoRenew bool      `json:"auto_renew"`
	Reason    string    `json:"reason"`
}

// Validate checks structural validity of an allocate input.
func (in *AllocateInput) Validate() error {
	if in.ScopeID == "" {
		return errors.New("scope_id is required")
	}
	if !in.Feature.Valid() {
		return errors.New("unknown feature: " + string(in.Feature))
	}
	if in.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	switch in.ScopeType {
	case ScopePrincipal, ScopeOrganization:
	default:
		return errors.New("unknown scope type: " + string(in.ScopeType))
	}
	switch in.Priority {
	case "", PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return errors.New("unknown priority: " + string(in.Priority))
	}
	return nil
}

// BulkResult reports the outcome of one item in a bulk allocate.
// Partial failure is per-item; unrelated scopes are never rolled back together.
type BulkResult struct {
	ScopeID string  `json:"scope_id"`
	Feature Feature `json:"feature"`
	OK      bool    `json:"ok"`
	Error   string  `json:"error,omitempty"`
}

// RequestStatus tracks the lifecycle of a self-service allocation request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// Request is a principal's self-service ask for more quota. It does not
// itself grant anything; an administrator resolves it via allocate.
type Request struct {
	ID          string        `json:"id"`
	PrincipalID string        `json:"principal_id"`
	OrgID       string        `json:"org_id"`
	Feature     Feature       `json:"feature"`
	Amount      int64         `json:"amount"`
	Note        string        `json:"note,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Suggestion is an advisory rebalancing recommendation derived from usage
// history. Best-effort only; not a control-plane decision.
type Suggestion struct {
	ScopeID     string  `json:"scope_id"`
	Feature     Feature `json:"feature"`
	Utilization float64 `json:"utilization"`
	Action      string  `json:"action"` // "increase", "decrease", "reallocate"
	Detail      string  `json:"detail"`
}

// PeriodFor returns the calendar-month period containing t, in UTC.
func PeriodFor(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
