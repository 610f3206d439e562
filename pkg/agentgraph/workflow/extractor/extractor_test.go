package extractor_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability/capabilitytest"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/extractor"
)

func execute(t *testing.T, llm capability.LLMGateway, src capability.ContextSource, in extractor.Input) workflow.Outcome {
	t.Helper()
	b, err := extractor.New(capability.AgentConfig{
		ID:             "weather",
		Type:           "extractor",
		RequiredFields: []string{"location", "temperature"},
	}, capability.Set{LLM: llm, Context: src})
	require.NoError(t, err)

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	out, err := b.Execute(context.Background(), workflow.Invocation{ThreadID: "weather:1", Input: raw})
	require.NoError(t, err)
	return out
}

func TestExtract(t *testing.T) {
	llm := capabilitytest.NewGateway().On(extractor.NodeExtract,
		capabilitytest.JSON(map[string]any{"location": "Lyon", "temperature": 21.5, "wind": "calm"}))

	out := execute(t, llm, nil, extractor.Input{Text: "Lyon, 21.5C and calm.", Fields: []string{"wind"}})

	require.True(t, out.Success())
	s := out.State.(extractor.State)
	result, err := state.DecodeOutput[extractor.Output](s.Base)
	require.NoError(t, err)
	assert.Equal(t, "Lyon", result.Fields["location"])
	assert.InDelta(t, 21.5, result.Fields["temperature"], 1e-9)
	assert.False(t, result.Escalated)

	calls := llm.Calls(extractor.NodeExtract)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt.User, "location, temperature, wind")
	assert.Equal(t, capability.Cheap, calls[0].Config.Tier)
}

func TestExtract_FetchesDocument(t *testing.T) {
	src := capabilitytest.NewSource().Put(capability.Document, "report-9", []byte("Oslo: -3C"))
	llm := capabilitytest.NewGateway().On(extractor.NodeExtract,
		capabilitytest.JSON(map[string]any{"location": "Oslo", "temperature": -3}))

	out := execute(t, llm, src, extractor.Input{DocumentID: "report-9"})

	require.True(t, out.Success())
	assert.Contains(t, llm.Calls(extractor.NodeExtract)[0].Prompt.User, "Oslo: -3C")
}

func TestExtract_UnavailableDocumentFails(t *testing.T) {
	src := capabilitytest.NewSource().FailWith(capability.Document, "report-9", capability.ErrTransient)

	out := execute(t, capabilitytest.NewGateway(), src, extractor.Input{DocumentID: "report-9"})

	require.NotNil(t, out.Failure)
	assert.Equal(t, extractor.NodeFetchDocument, out.Failure.Node)
	assert.Equal(t, "document_id", out.Failure.Field)
}

func TestExtract_EscalatesUnparseableAnswer(t *testing.T) {
	llm := capabilitytest.NewGateway().On(extractor.NodeExtract,
		capabilitytest.Reply{Text: "Sure! The location is Lyon."},
		capabilitytest.JSON(map[string]any{"location": "Lyon", "temperature": 20}))

	out := execute(t, llm, nil, extractor.Input{Text: "Lyon, 20C"})

	require.True(t, out.Success())
	calls := llm.Calls(extractor.NodeExtract)
	require.Len(t, calls, 2)
	assert.Equal(t, capability.Capable, calls[1].Config.Tier)
	assert.True(t, out.State.(extractor.State).Escalated)
}

func TestExtract_UnparseableAfterEscalationKeepsUsage(t *testing.T) {
	llm := capabilitytest.NewGateway().On(extractor.NodeExtract,
		capabilitytest.Reply{Text: "Sure!", TokensIn: 30, TokensOut: 5},
		capabilitytest.Reply{Text: "Certainly!", TokensIn: 60, TokensOut: 8})

	out := execute(t, llm, nil, extractor.Input{Text: "Lyon, 20C"})

	assert.False(t, out.Success())
	require.NotNil(t, out.Failure)
	assert.Equal(t, extractor.NodeExtract, out.Failure.Node)
	assert.Equal(t, 2, out.Usage.LLMCalls)
	assert.Equal(t, 103, out.Usage.Tokens())
	assert.True(t, out.State.(extractor.State).Escalated)
}

func TestExtract_MissingFieldFailsValidation(t *testing.T) {
	llm := capabilitytest.NewGateway().On(extractor.NodeExtract,
		capabilitytest.JSON(map[string]any{"location": "Lyon", "temperature": nil}))

	out := execute(t, llm, nil, extractor.Input{Text: "Lyon"})

	assert.False(t, out.Success())
	require.NotNil(t, out.Failure)
	assert.Equal(t, extractor.NodeValidate, out.Failure.Node)
	assert.Equal(t, "temperature", out.Failure.Field)
	assert.Equal(t, agerrors.CategoryPermanent, out.Failure.Category)

	payload, err := state.DecodeOutput[workflow.ErrorPayload](out.State.Core())
	require.NoError(t, err)
	assert.Equal(t, "temperature", payload.Field)
}

func TestExtract_InputValidation(t *testing.T) {
	out := execute(t, capabilitytest.NewGateway(), nil, extractor.Input{})

	require.NotNil(t, out.Failure)
	assert.Equal(t, "text", out.Failure.Field)
	assert.Empty(t, out.Output)
}
