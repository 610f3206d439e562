// Package telemetry emits per-node and per-run cost events.
//
// Emission is best-effort: a failing or panicking sink is logged and
// otherwise ignored, so telemetry can never change a workflow's outcome.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// Kind distinguishes node events from run summaries.
type Kind string

const (
	KindNode Kind = "node"
	KindRun  Kind = "run"
)

// Tier labels which model tier a node or run executed.
const (
	TierNone = ""
	Tier1    = "tier1"
	Tier2    = "tier2"
)

// CostEvent is one cost record.
type CostEvent struct {
	Kind         Kind               `json:"kind"`
	ThreadID     string             `json:"thread_id"`
	AgentID      string             `json:"agent_id,omitempty"`
	WorkflowType state.WorkflowType `json:"workflow_type"`
	Node         string             `json:"node,omitempty"` // empty for run summaries
	Model        string             `json:"model,omitempty"`
	TokensIn     int                `json:"tokens_in"`
	TokensOut    int                `json:"tokens_out"`
	DurationMs   int64              `json:"duration_ms"`
	TierExecuted string             `json:"tier_executed,omitempty"`
	Success      bool               `json:"success"`
	At           time.Time          `json:"at"`
}

// Tokens returns the total token count.
func (e CostEvent) Tokens() int {
	return e.TokensIn + e.TokensOut
}

// Sink receives cost events.
type Sink interface {
	Emit(ctx context.Context, evt CostEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt CostEvent) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, evt CostEvent) error {
	return f(ctx, evt)
}

// Noop discards events.
type Noop struct{}

// Emit implements Sink.
func (Noop) Emit(context.Context, CostEvent) error { return nil }

// Multi fans an event out to every sink. A failing sink does not stop the
// others; their errors are joined.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, evt CostEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit sends evt to sink, logging instead of returning failures. Panics in
// the sink are recovered.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, evt CostEvent) {
	if sink == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("telemetry sink panicked", "panic", fmt.Sprint(r), "thread_id", evt.ThreadID)
		}
	}()
	if err := sink.Emit(ctx, evt); err != nil {
		logger.Warn("telemetry emission failed", "error", err, "thread_id", evt.ThreadID, "node", evt.Node)
	}
}

// TierOf reports the highest tier recorded in usage.
func TierOf(u state.Usage) string {
	switch {
	case u.Tier2Executed:
		return Tier2
	case u.Tier1Executed:
		return Tier1
	}
	return TierNone
}

// RunEvent summarizes a finished run from its final state.
func RunEvent(s state.State, duration time.Duration, success bool) CostEvent {
	b := s.Core()
	u := b.Metadata.Usage
	return CostEvent{
		Kind:         KindRun,
		ThreadID:     b.ThreadID,
		AgentID:      b.Metadata.AgentID,
		WorkflowType: b.WorkflowType,
		Model:        u.LastModel(),
		TokensIn:     u.TokensIn,
		TokensOut:    u.TokensOut,
		DurationMs:   duration.Milliseconds(),
		TierExecuted: TierOf(u),
		Success:      success,
	}
}
