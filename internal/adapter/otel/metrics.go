package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "scholaris"

// Metrics holds all Scholaris metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	ToolCalls      metric.Int64Counter
	QuotaDenials   metric.Int64Counter
	VoiceSessions  metric.Int64Counter
	TurnDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("scholaris.turns.started",
		metric.WithDescription("Number of conversation turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("scholaris.turns.completed",
		metric.WithDescription("Number of conversation turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("scholaris.turns.failed",
		metric.WithDescription("Number of conversation turns failed"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("scholaris.toolcalls",
		metric.WithDescription("Number of tool calls"))
	if err != nil {
		return nil, err
	}

	m.QuotaDenials, err = meter.Int64Counter("scholaris.quota.denials",
		metric.WithDescription("Number of rejected quota consumptions"))
	if err != nil {
		return nil, err
	}

	m.VoiceSessions, err = meter.Int64Counter("scholaris.voice.sessions",
		metric.WithDescription("Number of voice sessions started"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("scholaris.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
