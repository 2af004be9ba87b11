package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "scholaris"

// StartTurnSpan starts a span for a conversation turn.
func StartTurnSpan(ctx context.Context, turnID, principalID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("principal.id", principalID),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within a turn.
func StartToolCallSpan(ctx context.Context, turnID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartVoiceSessionSpan starts a span covering a voice session's lifetime.
func StartVoiceSessionSpan(ctx context.Context, sessionID, transport string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "voice.session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.transport", transport),
		),
	)
}
