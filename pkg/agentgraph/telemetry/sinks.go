package telemetry

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/event"
)

// LogSink writes events as structured log records.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

// Emit implements Sink.
func (s LogSink) Emit(ctx context.Context, evt CostEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(ctx, s.Level, "cost recorded",
		slog.String("kind", string(evt.Kind)),
		slog.String("thread_id", evt.ThreadID),
		slog.String("workflow_type", string(evt.WorkflowType)),
		slog.String("node", evt.Node),
		slog.String("model", evt.Model),
		slog.Int("tokens", evt.Tokens()),
		slog.Int64("duration_ms", evt.DurationMs),
		slog.String("tier_executed", evt.TierExecuted),
		slog.Bool("success", evt.Success),
	)
	return nil
}

// EventType is the bus event type BusSink publishes.
const EventType = "cost.recorded"

// BusSink publishes events on an event bus, correlated by thread ID.
type BusSink struct {
	Bus    *event.LocalBus
	Source string
}

// Emit implements Sink.
func (s BusSink) Emit(ctx context.Context, evt CostEvent) error {
	source := s.Source
	if source == "" {
		source = "agentgraph"
	}
	return s.Bus.Publish(ctx, event.New(EventType, source, evt,
		event.WithCorrelationID(evt.ThreadID),
		event.WithTimestamp(evt.At),
	))
}
