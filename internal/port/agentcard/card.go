// Package agentcard serves the discovery document describing the assistant's
// capabilities to external agent hosts.
package agentcard

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Card describes the assistant's capabilities.
type Card struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	URL          string  `json:"url"`
	Version      string  `json:"version"`
	Skills       []Skill `json:"skills"`
	Capabilities struct {
		Streaming bool `json:"streaming"`
		Voice     bool `json:"voice"`
	} `json:"capabilities"`
}

// Skill describes a single capability of the assistant.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	InputModes  []string `json:"inputModes"`
	OutputModes []string `json:"outputModes"`
}

// Build returns the static card for this deployment.
func Build(baseURL string) Card {
	c := Card{
		Name:        "Scholaris Assistant",
		Description: "AI assistant for school enrollment, finance, and progress queries",
		URL:         baseURL,
		Version:     "0.1.0",
		Skills: []Skill{
			{
				ID:          "chat",
				Name:        "Chat",
				Description: "Answer questions about the organization using scoped data-access tools",
				InputModes:  []string{"text"},
				OutputModes: []string{"text"},
			},
			{
				ID:          "voice",
				Name:        "Voice",
				Description: "Real-time voice conversation with live transcripts",
				InputModes:  []string{"audio"},
				OutputModes: []string{"text", "audio"},
			},
		},
	}
	c.Capabilities.Streaming = true
	c.Capabilities.Voice = true
	return c
}

// Handler serves the discovery endpoint.
type Handler struct {
	baseURL string
}

// NewHandler creates a card handler.
func NewHandler(baseURL string) *Handler {
	return &Handler{baseURL: baseURL}
}

// MountRoutes registers the discovery route on the given chi router.
// Mounted at the root level, not under /api/v1.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/.well-known/agent.json", h.handleCard)
}

func (h *Handler) handleCard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Build(h.baseURL))
}
