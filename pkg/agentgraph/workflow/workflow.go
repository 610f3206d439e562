// Package workflow turns agent configurations into runnable workflows.
//
// Each workflow type lives in its own subpackage and defines a concrete
// state embedding state.Base, its nodes and its routing tables. This
// package holds what they share: the Builder contract the execution
// service drives, a generic Builder over a compiled graph, and node
// helpers for model calls, prompts and context fetches.
package workflow

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/telemetry"
)

// Builder runs one agent's workflow.
type Builder interface {
	// Type is the workflow type the builder implements.
	Type() state.WorkflowType
	// Agent is the configuration the builder was created for.
	Agent() capability.AgentConfig
	// Execute runs (or resumes) the workflow for one invocation.
	// Captured node failures are reported in Outcome.Failure; the error
	// is reserved for failures of the run itself.
	Execute(ctx context.Context, inv Invocation) (Outcome, error)
}

// Factory creates the Builder for an agent.
type Factory func(cfg capability.AgentConfig, caps capability.Set) (Builder, error)

// Invocation is one call into a workflow.
type Invocation struct {
	ThreadID      string
	CorrelationID string
	Input         json.RawMessage

	// Store enables checkpointing and resumption when set.
	Store checkpoint.Store
	// Sink receives per-node cost events.
	Sink   telemetry.Sink
	Logger *slog.Logger

	// Options are passed through to the engine (metrics, tracing).
	Options []agentgraph.RunOption
}

// Outcome is the common view of a finished run.
type Outcome struct {
	ThreadID string
	Output   json.RawMessage
	Failure  *state.Failure
	Usage    state.Usage
	// State is the final workflow state, or the bare state.Base when the
	// input was rejected before the graph ran.
	State state.State
}

// Success reports whether the run produced output without a failure.
func (o Outcome) Success() bool {
	return o.Failure == nil && len(o.Output) > 0
}

func outcomeOf(s state.State) Outcome {
	b := s.Core()
	return Outcome{
		ThreadID: b.ThreadID,
		Output:   b.Output,
		Failure:  b.Failure,
		Usage:    b.Metadata.Usage,
		State:    s,
	}
}
