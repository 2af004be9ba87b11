package http

import (
	"net/http"

	"github.com/scholaris/scholaris/internal/middleware"
)

// CreateAPIKeyHandler mints a new API key for the caller's organization.
// The plaintext is returned exactly once.
// POST /api/v1/auth/api-keys
func (h *Handlers) CreateAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Name string `json:"name"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Name, "name") {
		return
	}

	orgID := middleware.OrgIDFromContext(r.Context())
	plaintext, key, err := h.Auth.CreateAPIKey(r.Context(), orgID, body.Name)
	if err != nil {
		writeDomainError(w, err, "could not create key")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":       plaintext,
		"id":        key.ID,
		"name":      key.Name,
		"prefix":    key.Prefix,
		"createdAt": key.CreatedAt,
	})
}

// ListAPIKeysHandler lists the organization's API keys. Secrets are never
// included.
// GET /api/v1/auth/api-keys
func (h *Handlers) ListAPIKeysHandler(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.OrgIDFromContext(r.Context())
	keys, err := h.Auth.ListAPIKeys(r.Context(), orgID)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}
