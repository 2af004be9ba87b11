// Package modelbackend defines the completion backend port (interface).
package modelbackend

import (
	"context"
	"encoding/json"
)

// ChatMessage is one message in a completion request.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec is the model-facing description of an available tool.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// CompletionRequest asks the backend for the next assistant message.
type CompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	Tools     []ToolSpec    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// CompletionResponse is the backend's answer for one request.
type CompletionResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Model     string     `json:"model"`
	TokensIn  int        `json:"tokens_in"`
	TokensOut int        `json:"tokens_out"`
}

// TokenFunc receives streamed response tokens as they arrive.
type TokenFunc func(token string)

// Backend is the port interface for the external completion service.
type Backend interface {
	// Complete performs a full completion, optionally streaming tokens
	// through onToken as they arrive. onToken may be nil.
	Complete(ctx context.Context, req CompletionRequest, onToken TokenFunc) (*CompletionResponse, error)
}
