package telemetry

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// Observer returns a node observer emitting one KindNode event per node.
// Token counts are the usage delta the node added; TierExecuted is set on
// the node that first marked a tier as executed.
func Observer[S state.State](sink Sink, logger *slog.Logger) agentgraph.NodeObserver[S] {
	return func(rec agentgraph.NodeRecord, before, after S) {
		b, a := before.Core(), after.Core()
		ub, ua := b.Metadata.Usage, a.Metadata.Usage

		tier := TierNone
		switch {
		case ua.Tier2Executed && !ub.Tier2Executed:
			tier = Tier2
		case ua.Tier1Executed && !ub.Tier1Executed:
			tier = Tier1
		}
		model := ""
		if ua.LLMCalls > ub.LLMCalls {
			model = ua.LastModel()
		}

		Emit(context.Background(), sink, logger, CostEvent{
			Kind:         KindNode,
			ThreadID:     a.ThreadID,
			AgentID:      a.Metadata.AgentID,
			WorkflowType: a.WorkflowType,
			Node:         rec.Node,
			Model:        model,
			TokensIn:     ua.TokensIn - ub.TokensIn,
			TokensOut:    ua.TokensOut - ub.TokensOut,
			DurationMs:   rec.Duration().Milliseconds(),
			TierExecuted: tier,
			Success:      rec.Err == nil,
			At:           rec.EndedAt,
		})
	}
}
