package http

import (
	"net/http"

	"github.com/scholaris/scholaris/internal/domain/tool"
	"github.com/scholaris/scholaris/internal/middleware"
)

// ListTools returns the model-facing specs of every registered tool.
// GET /api/v1/tools
func (h *Handlers) ListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": h.Registry.Specs()})
}

// ExecuteTool runs one tool directly, outside a conversation. The tenancy
// scope comes from the authenticated request context, never from the body.
// POST /api/v1/tools/{name}/execute
func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")

	body, ok := readJSON[struct {
		Args map[string]any `json:"args"`
	}](w, r)
	if !ok {
		return
	}

	ctx := tool.WithScope(r.Context(), tool.Scope{
		OrgID:       middleware.OrgIDFromContext(r.Context()),
		PrincipalID: middleware.PrincipalIDFromContext(r.Context()),
	})

	res := h.Registry.Execute(ctx, name, body.Args)
	status := http.StatusOK
	if !res.Success && res.Error == tool.ErrNotFoundMessage {
		status = http.StatusNotFound
	}
	writeJSON(w, status, res)
}
