package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Assistant
		r.Post("/assistant/turns", h.HandleTurn)

		// Tools
		r.Get("/tools", h.ListTools)
		r.Post("/tools/{name}/execute", h.ExecuteTool)

		// Quota ledger
		r.Get("/quota/check", h.CheckQuota)
		r.Post("/quota/usage", h.RecordUsage)
		r.Post("/quota/allocations", h.Allocate)
		r.Post("/quota/allocations/bulk", h.BulkAllocate)
		r.Get("/quota/history/{scopeID}", h.QuotaHistory)
		r.Post("/quota/requests", h.RequestQuota)
		r.Get("/quota/requests", h.ListQuotaRequests)
		r.Get("/quota/suggestions", h.QuotaSuggestions)

		// Voice sessions
		r.Post("/voice/sessions", h.StartVoiceSession)
		r.Get("/voice/sessions", h.ListVoiceSessions)
		r.Get("/voice/sessions/{id}", h.VoiceSessionStatus)
		r.Post("/voice/sessions/{id}/audio", h.PushVoiceAudio)
		r.Post("/voice/sessions/{id}/stop", h.StopVoiceSession)
		r.Post("/voice/sessions/{id}/cancel", h.CancelVoiceSession)

		// API keys
		r.Post("/auth/api-keys", h.CreateAPIKeyHandler)
		r.Get("/auth/api-keys", h.ListAPIKeysHandler)
	})
}
