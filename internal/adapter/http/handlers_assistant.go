package http

import (
	"net/http"

	"github.com/scholaris/scholaris/internal/domain/assistant"
	"github.com/scholaris/scholaris/internal/middleware"
)

// HandleTurn runs one conversation turn.
// POST /api/v1/assistant/turns
func (h *Handlers) HandleTurn(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[assistant.TurnRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Utterance, "utterance") {
		return
	}

	orgID := middleware.OrgIDFromContext(r.Context())
	principalID := middleware.PrincipalIDFromContext(r.Context())
	if !requireField(w, principalID, "principal") {
		return
	}

	resp, err := h.Assistant.HandleTurn(r.Context(), orgID, principalID, req)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
