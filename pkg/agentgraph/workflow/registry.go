package workflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// ErrNoFactory is returned for a valid workflow type nobody registered.
var ErrNoFactory = errors.New("no factory registered for workflow type")

// Registry maps the closed set of workflow types to their factories.
type Registry struct {
	factories *registry.Registry[state.WorkflowType, Factory]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: registry.New[state.WorkflowType, Factory]()}
}

// Register binds a factory to t. It panics on a type outside the closed set.
func (r *Registry) Register(t state.WorkflowType, f Factory) *Registry {
	if !t.Valid() {
		panic(fmt.Sprintf("workflow: register unknown type %q", t))
	}
	r.factories.Register(t, f)
	return r
}

// Missing lists the workflow types without a factory.
func (r *Registry) Missing() []state.WorkflowType {
	var out []state.WorkflowType
	for _, t := range state.WorkflowTypes {
		if !r.factories.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Build creates the builder for cfg. Unknown types wrap
// state.ErrUnknownWorkflowType.
func (r *Registry) Build(cfg capability.AgentConfig, caps capability.Set) (Builder, error) {
	t, err := cfg.WorkflowType()
	if err != nil {
		return nil, err
	}
	f, ok := r.factories.Get(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, t)
	}
	return f(cfg, caps)
}
