package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/telemetry"
)

// State is the constraint on workflow states: they expose the common base
// and absorb node failures.
type State[S any] interface {
	state.State
	agentgraph.Failable[S]
}

// Definition describes a workflow over state S.
type Definition[S State[S]] struct {
	Type  state.WorkflowType
	Agent capability.AgentConfig

	// Graph assembles the uncompiled graph. It is called once.
	Graph func() *agentgraph.Graph[S]

	// NewState builds the initial state from the common base, decoding
	// and validating the typed input. Validation errors become a failed
	// Outcome without running the graph.
	NewState func(base state.Base) (S, error)

	// MaxIterations overrides the engine's loop guard when positive.
	MaxIterations int
}

// GraphBuilder is a Builder over a lazily compiled graph. The compiled
// graph is stateless and shared by every invocation.
type GraphBuilder[S State[S]] struct {
	def Definition[S]

	once     sync.Once
	compiled *agentgraph.CompiledGraph[S]
	err      error
}

// New creates a GraphBuilder.
func New[S State[S]](def Definition[S]) *GraphBuilder[S] {
	return &GraphBuilder[S]{def: def}
}

// Type implements Builder.
func (b *GraphBuilder[S]) Type() state.WorkflowType { return b.def.Type }

// Agent implements Builder.
func (b *GraphBuilder[S]) Agent() capability.AgentConfig { return b.def.Agent }

// Compiled compiles the graph on first use.
func (b *GraphBuilder[S]) Compiled() (*agentgraph.CompiledGraph[S], error) {
	b.once.Do(func() {
		b.compiled, b.err = b.def.Graph().Compile()
		if b.err != nil {
			b.err = fmt.Errorf("compile %s workflow: %w", b.def.Type, b.err)
		}
	})
	return b.compiled, b.err
}

// Execute implements Builder.
func (b *GraphBuilder[S]) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	compiled, err := b.Compiled()
	if err != nil {
		return Outcome{}, err
	}

	base, err := state.NewBase(b.def.Type, inv.ThreadID, inv.Input, state.Metadata{
		CorrelationID: inv.CorrelationID,
		AgentID:       b.def.Agent.ID,
	})
	if err != nil {
		return Outcome{}, err
	}
	initial, err := b.def.NewState(base)
	if err != nil {
		if isValidation(err) {
			base.Fail("input", err)
			return outcomeOf(base), nil
		}
		return Outcome{}, err
	}

	opts := append([]agentgraph.RunOption{}, inv.Options...)
	opts = append(opts,
		agentgraph.WithThreadID(inv.ThreadID),
		agentgraph.WithNodeObserver(telemetry.Observer[S](inv.Sink, inv.Logger)),
	)
	if inv.Store != nil {
		opts = append(opts, agentgraph.WithCheckpointing(inv.Store))
	}
	if inv.Logger != nil {
		opts = append(opts, agentgraph.WithObservabilityLogger(inv.Logger))
	}
	if b.def.MaxIterations > 0 {
		opts = append(opts, agentgraph.WithMaxIterations(b.def.MaxIterations))
	}

	ectx := agentgraph.NewContext(ctx,
		agentgraph.WithLogger(inv.Logger),
		agentgraph.WithContextThreadID(inv.ThreadID),
	)
	final, err := compiled.Invoke(ectx, initial, opts...)
	if err != nil {
		return Outcome{}, err
	}
	return outcomeOf(final), nil
}

func isValidation(err error) bool {
	var v *agerrors.ValidationError
	return errors.As(err, &v)
}
