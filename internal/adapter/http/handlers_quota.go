package http

import (
	"net/http"
	"strconv"

	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/middleware"
	"github.com/scholaris/scholaris/internal/service"
)

// CheckQuota answers a read-only consumption pre-check.
// GET /api/v1/quota/check?scope_id=...&feature=...&amount=N
func (h *Handlers) CheckQuota(w http.ResponseWriter, r *http.Request) {
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		scopeID = middleware.PrincipalIDFromContext(r.Context())
	}
	feature := quota.Feature(r.URL.Query().Get("feature"))
	if !requireField(w, scopeID, "scope_id") || !requireField(w, string(feature), "feature") {
		return
	}
	amount := int64(1)
	if raw := r.URL.Query().Get("amount"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "amount must be a positive integer")
			return
		}
		amount = n
	}

	res, err := h.Quota.CheckAllowed(r.Context(), scopeID, feature, amount)
	if err != nil {
		writeDomainError(w, err, "allocation not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RecordUsage consumes quota for a scope.
// POST /api/v1/quota/usage
func (h *Handlers) RecordUsage(w http.ResponseWriter, r *http.Request) {
	rec, ok := readJSON[service.UsageRecord](w, r)
	if !ok {
		return
	}
	if !requireField(w, rec.ScopeID, "scope_id") {
		return
	}

	alloc, err := h.Quota.RecordUsage(r.Context(), rec)
	if err != nil {
		writeDomainError(w, err, "no active allocation for scope")
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

// Allocate creates or updates an allocation for the current period.
// POST /api/v1/quota/allocations
func (h *Handlers) Allocate(w http.ResponseWriter, r *http.Request) {
	in, ok := readJSON[quota.AllocateInput](w, r)
	if !ok {
		return
	}

	actorID := middleware.PrincipalIDFromContext(r.Context())
	alloc, err := h.Quota.Allocate(r.Context(), actorID, in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alloc)
}

// BulkAllocate applies many allocations with per-item outcomes.
// POST /api/v1/quota/allocations/bulk
func (h *Handlers) BulkAllocate(w http.ResponseWriter, r *http.Request) {
	items, ok := readJSON[[]quota.AllocateInput](w, r)
	if !ok {
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "no allocations given")
		return
	}

	actorID := middleware.PrincipalIDFromContext(r.Context())
	results := h.Quota.BulkAllocate(r.Context(), actorID, items)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// QuotaHistory returns the allocation audit trail for a scope.
// GET /api/v1/quota/history/{scopeID}
func (h *Handlers) QuotaHistory(w http.ResponseWriter, r *http.Request) {
	scopeID := urlParam(r, "scopeID")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.Quota.History(r.Context(), scopeID, limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// RequestQuota files a self-service allocation request.
// POST /api/v1/quota/requests
func (h *Handlers) RequestQuota(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[quota.Request](w, r)
	if !ok {
		return
	}
	if req.PrincipalID == "" {
		req.PrincipalID = middleware.PrincipalIDFromContext(r.Context())
	}
	req.OrgID = middleware.OrgIDFromContext(r.Context())

	created, err := h.Quota.RequestAllocation(r.Context(), &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListQuotaRequests returns the organization's quota requests.
// GET /api/v1/quota/requests?status=pending
func (h *Handlers) ListQuotaRequests(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromContext(r.Context())
	status := quota.RequestStatus(r.URL.Query().Get("status"))

	requests, err := h.Quota.ListRequests(r.Context(), orgID, status)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

// QuotaSuggestions returns advisory rebalancing recommendations.
// GET /api/v1/quota/suggestions
func (h *Handlers) QuotaSuggestions(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromContext(r.Context())

	suggestions, err := h.Quota.Suggestions(r.Context(), orgID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}
