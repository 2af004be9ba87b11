package ws

import (
	"context"
	"encoding/json"
)

// Event type constants for WebSocket messages.
const (
	EventAssistantToken = "assistant.token"
	EventTurnStatus     = "turn.status"
	EventVoiceStatus    = "voice.status"
	EventQuotaDenied    = "quota.denied"
)

// AssistantTokenEvent carries one streamed token of an assistant reply.
type AssistantTokenEvent struct {
	TurnID string `json:"turn_id"`
	Token  string `json:"token"`
}

// TurnStatusEvent is broadcast when a conversation turn changes state.
type TurnStatusEvent struct {
	TurnID      string `json:"turn_id"`
	PrincipalID string `json:"principal_id"`
	Status      string `json:"status"` // "started", "tool_call", "completed", "failed"
	Tool        string `json:"tool,omitempty"`
}

// VoiceStatusEvent is broadcast when a voice session changes state.
type VoiceStatusEvent struct {
	SessionID   string `json:"session_id"`
	PrincipalID string `json:"principal_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// QuotaDeniedEvent is broadcast when a consumption attempt is rejected.
type QuotaDeniedEvent struct {
	ScopeID string `json:"scope_id"`
	Feature string `json:"feature"`
	Used    int64  `json:"used"`
	Limit   int64  `json:"limit"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

// BroadcastEventToOrg marshals a typed event and sends it to one organization's clients.
func (h *Hub) BroadcastEventToOrg(ctx context.Context, orgID, eventType string, payload any) {
	data, err := h.marshalPayload(eventType, payload)
	if err != nil {
		return
	}

	h.BroadcastToOrg(ctx, orgID, Message{
		Type:    eventType,
		Payload: data,
	})
}

func (h *Hub) marshalPayload(eventType string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal ws event payload", "type", eventType, "error", err)
		return nil, err
	}
	return data, nil
}
