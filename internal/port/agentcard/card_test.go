package agentcard

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestBuild(t *testing.T) {
	card := Build("http://localhost:8080")
	if card.Name == "" || card.URL != "http://localhost:8080" {
		t.Fatalf("unexpected card: %+v", card)
	}
	if len(card.Skills) < 2 {
		t.Errorf("expected chat and voice skills, got %d", len(card.Skills))
	}
	if !card.Capabilities.Streaming || !card.Capabilities.Voice {
		t.Error("expected streaming and voice capabilities")
	}
}

func TestHandleCard(t *testing.T) {
	r := chi.NewRouter()
	NewHandler("http://localhost:8080").MountRoutes(r)

	req := httptest.NewRequest("GET", "/.well-known/agent.json", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var card Card
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if card.Name == "" {
		t.Error("card missing name")
	}
}
