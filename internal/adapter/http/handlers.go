package http

import (
	"context"
	"net/http"

	"github.com/scholaris/scholaris/internal/adapter/ws"
	"github.com/scholaris/scholaris/internal/domain/tool"
	"github.com/scholaris/scholaris/internal/port/messagequeue"
	"github.com/scholaris/scholaris/internal/resilience"
	"github.com/scholaris/scholaris/internal/service"
)

// Pinger reports storage liveness. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Quota     *service.QuotaService
	Assistant *service.AssistantService
	Voice     *service.VoiceService
	Auth      *service.AuthService
	Registry  *tool.Registry
	Hub       *ws.Hub
	Queue     messagequeue.Queue
	DB        Pinger
	Breaker   *resilience.Breaker
}

// Health reports liveness of the service and its dependencies. Degraded
// dependencies are reported but the endpoint stays 200 as long as the
// process itself is serving.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type depStatus struct {
		OK     bool   `json:"ok"`
		Detail string `json:"detail,omitempty"`
	}
	resp := struct {
		Status string               `json:"status"`
		Deps   map[string]depStatus `json:"deps"`
	}{
		Status: "ok",
		Deps:   map[string]depStatus{},
	}

	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			resp.Deps["postgres"] = depStatus{OK: false, Detail: err.Error()}
			resp.Status = "degraded"
		} else {
			resp.Deps["postgres"] = depStatus{OK: true}
		}
	}
	if h.Queue != nil {
		connected := h.Queue.IsConnected()
		resp.Deps["nats"] = depStatus{OK: connected}
		if !connected {
			resp.Status = "degraded"
		}
	}
	if h.Breaker != nil {
		open := h.Breaker.State() == resilience.StateOpen
		resp.Deps["model"] = depStatus{OK: !open}
		if open {
			resp.Deps["model"] = depStatus{OK: false, Detail: "circuit open"}
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
