// Package assistant defines conversation data types for the AI assistant.
package assistant

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is a single message within a conversation turn.
type Message struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
}

// Turn is one request/response exchange in a conversation.
type Turn struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	FastPath  bool      `json:"fast_path"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnRequest is an incoming utterance for the orchestrator.
type TurnRequest struct {
	ConversationID string `json:"conversation_id"`
	Utterance      string `json:"utterance"`
	// ConfirmedTool names the confirmation-gated tool the user explicitly
	// approved, echoed back from a prior PendingConfirmation. Approval
	// covers that tool only; any other gated tool still waits for its own.
	ConfirmedTool string `json:"confirmed_tool,omitempty"`
}

// TurnResponse is the orchestrator's answer for one turn.
type TurnResponse struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	FastPath       bool   `json:"fast_path"`
	// NeedsUpgrade is set when quota exhaustion blocked the turn;
	// Content then carries an actionable upgrade prompt.
	NeedsUpgrade bool `json:"needs_upgrade,omitempty"`
	// PendingConfirmation names a risk-gated tool awaiting explicit
	// user approval before it will run.
	PendingConfirmation string `json:"pending_confirmation,omitempty"`
}
