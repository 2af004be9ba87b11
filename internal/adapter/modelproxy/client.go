// Package modelproxy provides an HTTP client for an OpenAI-compatible
// completion proxy (LiteLLM or equivalent).
package modelproxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scholaris/scholaris/internal/port/modelbackend"
	"github.com/scholaris/scholaris/internal/resilience"
)

// Client talks to the chat completions endpoint of the model proxy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new model proxy client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// chat wire types follow the OpenAI chat completions schema.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Tools     []chatTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Complete performs a chat completion against the proxy. With a non-nil
// onToken it uses server-sent events and forwards each content delta.
func (c *Client) Complete(ctx context.Context, req modelbackend.CompletionRequest, onToken modelbackend.TokenFunc) (*modelbackend.CompletionResponse, error) {
	wire := chatRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    onToken != nil,
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, toWireMessage(m))
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	var out *modelbackend.CompletionResponse
	call := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("model proxy error %d: %s", resp.StatusCode, string(data))
		}

		if onToken != nil {
			out, err = decodeStream(resp.Body, onToken)
		} else {
			out, err = decodeResponse(resp.Body)
		}
		return err
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return out, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks the proxy health endpoint.
func (c *Client) Health(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 400, nil
}

func toWireMessage(m modelbackend.ChatMessage) chatMessage {
	out := chatMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	for _, tc := range m.ToolCalls {
		var wtc chatToolCall
		wtc.ID = tc.ID
		wtc.Type = "function"
		wtc.Function.Name = tc.Name
		wtc.Function.Arguments = string(tc.Arguments)
		out.ToolCalls = append(out.ToolCalls, wtc)
	}
	return out
}

func fromWireToolCalls(calls []chatToolCall) []modelbackend.ToolCall {
	var out []modelbackend.ToolCall
	for _, tc := range calls {
		out = append(out, modelbackend.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}

func decodeResponse(r io.Reader) (*modelbackend.CompletionResponse, error) {
	var wire chatResponse
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	msg := wire.Choices[0].Message
	return &modelbackend.CompletionResponse{
		Content:   msg.Content,
		ToolCalls: fromWireToolCalls(msg.ToolCalls),
		Model:     wire.Model,
		TokensIn:  wire.Usage.PromptTokens,
		TokensOut: wire.Usage.CompletionTokens,
	}, nil
}

// decodeStream reads SSE data lines, forwarding content deltas through
// onToken and accumulating the final response.
func decodeStream(r io.Reader, onToken modelbackend.TokenFunc) (*modelbackend.CompletionResponse, error) {
	var (
		content   strings.Builder
		toolCalls []chatToolCall
		model     string
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				onToken(choice.Delta.Content)
			}
			toolCalls = append(toolCalls, choice.Delta.ToolCalls...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read completion stream: %w", err)
	}

	return &modelbackend.CompletionResponse{
		Content:   content.String(),
		ToolCalls: fromWireToolCalls(toolCalls),
		Model:     model,
	}, nil
}
