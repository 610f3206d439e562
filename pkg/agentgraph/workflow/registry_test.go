package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability/capabilitytest"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/extractor"
)

func TestRegistry_Build(t *testing.T) {
	reg := workflow.NewRegistry().Register(state.Extractor, extractor.Factory)
	caps := capability.Set{LLM: capabilitytest.NewGateway()}

	b, err := reg.Build(capability.AgentConfig{ID: "a", Type: "extractor", RequiredFields: []string{"x"}}, caps)
	require.NoError(t, err)
	assert.Equal(t, state.Extractor, b.Type())
	assert.Equal(t, "a", b.Agent().ID)

	_, err = reg.Build(capability.AgentConfig{ID: "b", Type: "poetry"}, caps)
	require.ErrorIs(t, err, state.ErrUnknownWorkflowType)

	_, err = reg.Build(capability.AgentConfig{ID: "c", Type: "explorer"}, caps)
	require.ErrorIs(t, err, workflow.ErrNoFactory)
}

func TestRegistry_Missing(t *testing.T) {
	reg := workflow.NewRegistry().Register(state.Extractor, extractor.Factory)

	missing := reg.Missing()
	assert.Len(t, missing, len(state.WorkflowTypes)-1)
	assert.NotContains(t, missing, state.Extractor)
}

func TestRegistry_RegisterUnknownTypePanics(t *testing.T) {
	assert.Panics(t, func() {
		workflow.NewRegistry().Register("poetry", extractor.Factory)
	})
}
