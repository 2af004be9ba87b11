package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scholaris/scholaris/internal/adapter/otel"
	"github.com/scholaris/scholaris/internal/config"
	"github.com/scholaris/scholaris/internal/domain/assistant"
	"github.com/scholaris/scholaris/internal/domain/quota"
	"github.com/scholaris/scholaris/internal/domain/tool"
	"github.com/scholaris/scholaris/internal/port/broadcast"
	"github.com/scholaris/scholaris/internal/port/messagequeue"
	"github.com/scholaris/scholaris/internal/port/modelbackend"
)

// systemPrompt frames the assistant for the model backend.
const systemPrompt = "You are Scholaris Assist, the assistant for a school-management platform. " +
	"Answer questions about enrollment, finances, and student progress using the available tools. " +
	"Stay within the caller's organization; never invent data."

// upgradePrompt is returned in place of a model answer when quota is exhausted.
const upgradePrompt = "You've used up your assistant quota for this period. " +
	"Ask your administrator to increase your allocation, or file a quota request to get more."

// quotaGate is the slice of the quota service the orchestrator needs.
type quotaGate interface {
	CheckAllowed(ctx context.Context, scopeID string, feature quota.Feature, amount int64) (*quota.CheckResult, error)
	RecordUsage(ctx context.Context, rec UsageRecord) (*quota.Allocation, error)
}

// AssistantService orchestrates conversation turns: fast-path answers, quota
// gating, bounded context assembly, model calls, and risk-gated tool
// execution. Usage is recorded exactly once per completed turn.
type AssistantService struct {
	model    modelbackend.Backend
	registry *tool.Registry
	quota    quotaGate
	bcast    broadcast.Broadcaster
	queue    messagequeue.Queue
	metrics  *otel.Metrics
	modelCfg config.Model
	cfg      config.Assistant

	mu      sync.Mutex
	windows map[string]*assistant.Window
}

// NewAssistantService creates the orchestrator. bcast, queue, and metrics
// may be nil; the turn pipeline itself requires model, registry, and quota.
func NewAssistantService(model modelbackend.Backend, registry *tool.Registry, q quotaGate, bcast broadcast.Broadcaster, queue messagequeue.Queue, metrics *otel.Metrics, modelCfg config.Model, cfg config.Assistant) *AssistantService {
	return &AssistantService{
		model:    model,
		registry: registry,
		quota:    q,
		bcast:    bcast,
		queue:    queue,
		metrics:  metrics,
		modelCfg: modelCfg,
		cfg:      cfg,
		windows:  make(map[string]*assistant.Window),
	}
}

// turnSummary is published to the audit stream after every completed turn.
type turnSummary struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	OrgID          string `json:"org_id"`
	PrincipalID    string `json:"principal_id"`
	FastPath       bool   `json:"fast_path"`
	ToolRounds     int    `json:"tool_rounds"`
	TokensIn       int    `json:"tokens_in"`
	TokensOut      int    `json:"tokens_out"`
	DurationMS     int64  `json:"duration_ms"`
}

// HandleTurn processes one utterance end to end.
//
// The fast path answers deterministic queries before quota, context, or the
// model are touched. The full path checks quota (short-circuiting with an
// upgrade prompt when denied), assembles the bounded window, calls the model
// with tool specs, runs confirmation-gated tool rounds, and records usage
// once when the turn completes.
func (a *AssistantService) HandleTurn(ctx context.Context, orgID, principalID string, req assistant.TurnRequest) (*assistant.TurnResponse, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	turnID := uuid.NewString()
	started := time.Now()

	if answer, ok := assistant.FastPathAnswer(req.Utterance); ok {
		a.publishSummary(ctx, turnSummary{
			TurnID:         turnID,
			ConversationID: req.ConversationID,
			OrgID:          orgID,
			PrincipalID:    principalID,
			FastPath:       true,
			DurationMS:     time.Since(started).Milliseconds(),
		})
		return &assistant.TurnResponse{
			ConversationID: req.ConversationID,
			Content:        answer,
			FastPath:       true,
		}, nil
	}

	ctx, span := otel.StartTurnSpan(ctx, turnID, principalID)
	defer span.End()
	if a.metrics != nil {
		a.metrics.TurnsStarted.Add(ctx, 1)
	}
	a.broadcastTurnStatus(ctx, orgID, req.ConversationID, turnID, "started")

	check, err := a.quota.CheckAllowed(ctx, principalID, quota.FeatureChat, 1)
	if err != nil {
		return nil, a.failTurn(ctx, orgID, req.ConversationID, turnID, fmt.Errorf("quota check: %w", err))
	}
	if !check.Allowed {
		if a.metrics != nil {
			a.metrics.QuotaDenials.Add(ctx, 1)
		}
		a.broadcastTurnStatus(ctx, orgID, req.ConversationID, turnID, "denied")
		return &assistant.TurnResponse{
			ConversationID: req.ConversationID,
			Content:        upgradePrompt,
			NeedsUpgrade:   true,
		}, nil
	}

	window := a.window(req.ConversationID)
	userMsg := assistant.Message{Role: assistant.RoleUser, Content: req.Utterance}

	messages := make([]modelbackend.ChatMessage, 0, window.Len()*2+2)
	messages = append(messages, modelbackend.ChatMessage{Role: assistant.RoleSystem, Content: systemPrompt})
	for _, m := range window.Messages() {
		messages = append(messages, toChatMessage(m))
	}
	messages = append(messages, modelbackend.ChatMessage{Role: assistant.RoleUser, Content: req.Utterance})

	specs := a.toolSpecs()
	turnMessages := []assistant.Message{userMsg}

	var (
		content    string
		tokensIn   int
		tokensOut  int
		toolRounds int
	)

	toolCtx := tool.WithScope(ctx, tool.Scope{OrgID: orgID, PrincipalID: principalID})

	for round := 0; ; round++ {
		resp, err := a.model.Complete(ctx, modelbackend.CompletionRequest{
			Model:     a.modelCfg.Default,
			Messages:  messages,
			Tools:     specs,
			MaxTokens: a.modelCfg.MaxTokens,
		}, a.tokenSink(ctx, orgID, req.ConversationID))
		if err != nil {
			return nil, a.failTurn(ctx, orgID, req.ConversationID, turnID, fmt.Errorf("model: %w", err))
		}
		tokensIn += resp.TokensIn
		tokensOut += resp.TokensOut

		if len(resp.ToolCalls) == 0 {
			content = resp.Content
			break
		}
		if round >= a.cfg.MaxToolRounds {
			slog.Warn("tool round limit reached", "conversation_id", req.ConversationID, "rounds", round)
			content = resp.Content
			if content == "" {
				content = "I couldn't finish that request: too many tool steps. Try a narrower question."
			}
			break
		}

		if name, gated := a.pendingConfirmation(resp.ToolCalls, req.ConfirmedTool); gated {
			a.broadcastTurnStatus(ctx, orgID, req.ConversationID, turnID, "awaiting_confirmation")
			return &assistant.TurnResponse{
				ConversationID:      req.ConversationID,
				Content:             fmt.Sprintf("The %s action needs your confirmation before I run it.", name),
				PendingConfirmation: name,
			}, nil
		}

		assistantMsg, toolMsgs := a.runToolCalls(toolCtx, turnID, resp)
		messages = append(messages, assistantMsg)
		messages = append(messages, toolMsgs...)
		turnMessages = append(turnMessages, fromChatMessages(append([]modelbackend.ChatMessage{assistantMsg}, toolMsgs...))...)
		toolRounds++
	}

	turnMessages = append(turnMessages, assistant.Message{Role: assistant.RoleAssistant, Content: content})
	window.Append(assistant.Turn{
		ID:        turnID,
		Messages:  turnMessages,
		CreatedAt: started.UTC(),
	})

	if _, err := a.quota.RecordUsage(ctx, UsageRecord{
		ScopeType: quota.ScopePrincipal,
		ScopeID:   principalID,
		Feature:   quota.FeatureChat,
		Amount:    1,
		Metadata:  map[string]string{"org_id": orgID, "turn_id": turnID},
	}); err != nil {
		// The answer is already produced; a ledger race here is logged, not
		// surfaced to the user.
		slog.Warn("record turn usage failed", "principal_id", principalID, "error", err)
	}

	elapsed := time.Since(started)
	if a.metrics != nil {
		a.metrics.TurnsCompleted.Add(ctx, 1)
		a.metrics.TurnDuration.Record(ctx, elapsed.Seconds())
	}
	a.broadcastTurnStatus(ctx, orgID, req.ConversationID, turnID, "completed")
	a.publishSummary(ctx, turnSummary{
		TurnID:         turnID,
		ConversationID: req.ConversationID,
		OrgID:          orgID,
		PrincipalID:    principalID,
		ToolRounds:     toolRounds,
		TokensIn:       tokensIn,
		TokensOut:      tokensOut,
		DurationMS:     elapsed.Milliseconds(),
	})

	return &assistant.TurnResponse{
		ConversationID: req.ConversationID,
		Content:        content,
	}, nil
}

// pendingConfirmation returns the first requested tool that is gated on
// explicit user approval. Medium- and high-risk tools gate even without the
// per-tool flag. An approval names one tool and covers only that tool; a
// different gated tool raises its own confirmation.
func (a *AssistantService) pendingConfirmation(calls []modelbackend.ToolCall, confirmedTool string) (string, bool) {
	for _, call := range calls {
		t, ok := a.registry.Get(call.Name)
		if !ok {
			continue // unknown names resolve to an envelope error in execution
		}
		if !t.RequiresConfirmation && t.Risk != tool.RiskMedium && t.Risk != tool.RiskHigh {
			continue
		}
		if call.Name == confirmedTool {
			continue
		}
		return call.Name, true
	}
	return "", false
}

// runToolCalls executes every requested call and renders the results as tool
// messages for the next model round.
func (a *AssistantService) runToolCalls(ctx context.Context, turnID string, resp *modelbackend.CompletionResponse) (modelbackend.ChatMessage, []modelbackend.ChatMessage) {
	assistantMsg := modelbackend.ChatMessage{
		Role:      assistant.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}

	toolMsgs := make([]modelbackend.ChatMessage, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		var args map[string]any
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				slog.Warn("bad tool arguments", "tool", call.Name, "error", err)
			}
		}

		callCtx, span := otel.StartToolCallSpan(ctx, turnID, call.Name)
		res := a.registry.Execute(callCtx, call.Name, args)
		span.End()
		if a.metrics != nil {
			a.metrics.ToolCalls.Add(ctx, 1)
		}

		payload, err := json.Marshal(res)
		if err != nil {
			payload = []byte(`{"success":false,"error":"result encoding failed"}`)
		}
		toolMsgs = append(toolMsgs, modelbackend.ChatMessage{
			Role:       assistant.RoleTool,
			Content:    string(payload),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	return assistantMsg, toolMsgs
}

// tokenSink streams model tokens to the conversation's org as they arrive.
func (a *AssistantService) tokenSink(ctx context.Context, orgID, conversationID string) modelbackend.TokenFunc {
	if a.bcast == nil {
		return nil
	}
	return func(token string) {
		a.bcast.BroadcastEventToOrg(ctx, orgID, "assistant.token", map[string]any{
			"conversation_id": conversationID,
			"token":           token,
		})
	}
}

func (a *AssistantService) failTurn(ctx context.Context, orgID, conversationID, turnID string, err error) error {
	if a.metrics != nil {
		a.metrics.TurnsFailed.Add(ctx, 1)
	}
	a.broadcastTurnStatus(ctx, orgID, conversationID, turnID, "failed")
	return err
}

func (a *AssistantService) broadcastTurnStatus(ctx context.Context, orgID, conversationID, turnID, status string) {
	if a.bcast == nil {
		return
	}
	a.bcast.BroadcastEventToOrg(ctx, orgID, "turn.status", map[string]any{
		"conversation_id": conversationID,
		"turn_id":         turnID,
		"status":          status,
	})
}

func (a *AssistantService) publishSummary(ctx context.Context, sum turnSummary) {
	if a.queue == nil {
		return
	}
	data, err := json.Marshal(sum)
	if err != nil {
		return
	}
	if err := a.queue.Publish(ctx, messagequeue.SubjectAssistantTurns, data); err != nil {
		slog.Warn("publish turn summary failed", "turn_id", sum.TurnID, "error", err)
	}
}

// window returns the conversation's bounded window, creating it on first use.
func (a *AssistantService) window(conversationID string) *assistant.Window {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[conversationID]
	if !ok {
		w = assistant.NewWindow(a.cfg.MaxWindowTurns)
		a.windows[conversationID] = w
	}
	return w
}

func (a *AssistantService) toolSpecs() []modelbackend.ToolSpec {
	specs := a.registry.Specs()
	out := make([]modelbackend.ToolSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, modelbackend.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.InputSchema,
		})
	}
	return out
}

func toChatMessage(m assistant.Message) modelbackend.ChatMessage {
	out := modelbackend.ChatMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.ToolName,
	}
	if len(m.ToolCalls) > 0 {
		_ = json.Unmarshal(m.ToolCalls, &out.ToolCalls)
	}
	return out
}

func fromChatMessages(msgs []modelbackend.ChatMessage) []assistant.Message {
	out := make([]assistant.Message, 0, len(msgs))
	for _, m := range msgs {
		am := assistant.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.Name,
		}
		if len(m.ToolCalls) > 0 {
			if raw, err := json.Marshal(m.ToolCalls); err == nil {
				am.ToolCalls = raw
			}
		}
		out = append(out, am)
	}
	return out
}
