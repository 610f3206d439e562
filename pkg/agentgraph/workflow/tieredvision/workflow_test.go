package tieredvision_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability/capabilitytest"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
	tv "github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/tieredvision"
)

var (
	thumbBytes    = []byte("\xff\xd8\xff thumbnail")
	originalBytes = []byte("\xff\xd8\xff original image")
)

type fixture struct {
	llm     *capabilitytest.Gateway
	source  *capabilitytest.Source
	builder *workflow.GraphBuilder[tv.State]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		llm: capabilitytest.NewGateway(),
		source: capabilitytest.NewSource().
			Put(capability.Thumbnail, "leaf-1", thumbBytes).
			Put(capability.Original, "leaf-1", originalBytes),
	}
	b, err := tv.New(capability.AgentConfig{ID: "plant-vision", Type: "tiered_vision"}, capability.Set{
		LLM:       f.llm,
		Context:   f.source,
		Retriever: &capabilitytest.Retriever{Chunks: []capability.RankedChunk{{ID: "k1", Text: "Blight shows brown lesions."}}},
	})
	require.NoError(t, err)
	f.builder = b
	return f
}

func (f *fixture) run(t *testing.T, input tv.Input, store checkpoint.Store) (workflow.Outcome, tv.State) {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	out, err := f.builder.Execute(context.Background(), workflow.Invocation{
		ThreadID: "plant-vision:" + input.DocID,
		Input:    raw,
		Store:    store,
	})
	require.NoError(t, err)
	s, ok := out.State.(tv.State)
	require.True(t, ok, "final state is %T", out.State)
	return out, s
}

func TestRouting_Boundaries(t *testing.T) {
	table := tv.Routing(capability.AgentConfig{}.WithDefaults().Thresholds)

	tests := []struct {
		name  string
		class tv.Classification
		conf  float64
		want  string
	}{
		{"healthy at threshold skips", tv.Healthy, 0.85, tv.NodeOutput},
		{"healthy below threshold escalates", tv.Healthy, 0.8499, tv.NodeDiagnose},
		{"healthy well above skips", tv.Healthy, 0.99, tv.NodeOutput},
		{"obvious issue at threshold skips", tv.ObviousIssue, 0.75, tv.NodeOutput},
		{"obvious issue below threshold escalates", tv.ObviousIssue, 0.7499, tv.NodeDiagnose},
		{"uncertain always escalates", tv.Uncertain, 1.0, tv.NodeDiagnose},
		{"uncertain low escalates", tv.Uncertain, 0.1, tv.NodeDiagnose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tv.State{Tier1: &tv.ScreenResult{Classification: tt.class, Confidence: tt.conf}}
			assert.Equal(t, tt.want, table.Decide(s))
		})
	}

	t.Run("failure wins", func(t *testing.T) {
		s := tv.State{Tier1: &tv.ScreenResult{Classification: tv.Healthy, Confidence: 0.99}}
		s.Failure = &state.Failure{Node: tv.NodeScreen, Message: "boom"}
		assert.Equal(t, tv.NodeErrorOutput, table.Decide(s))
	})
}

func TestRouting_ConfiguredThresholds(t *testing.T) {
	table := tv.Routing(capability.Thresholds{HealthySkip: capability.Threshold(0.95), ObviousIssueSkip: capability.Threshold(0.6)})
	assert.Equal(t, tv.NodeDiagnose, table.Decide(tv.State{Tier1: &tv.ScreenResult{Classification: tv.Healthy, Confidence: 0.9}}))
	assert.Equal(t, tv.NodeOutput, table.Decide(tv.State{Tier1: &tv.ScreenResult{Classification: tv.ObviousIssue, Confidence: 0.6}}))
}

func TestHealthyThumbnailSkipsTier2(t *testing.T) {
	f := newFixture(t)
	f.llm.On(tv.NodeScreen, capabilitytest.JSON(tv.ScreenResult{Classification: tv.Healthy, Confidence: 0.90, Findings: []string{"green leaves"}}))

	out, s := f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: true}, nil)

	require.True(t, out.Success())
	result, err := state.DecodeOutput[tv.Output](s.Base)
	require.NoError(t, err)
	assert.Equal(t, tv.Healthy, result.Classification)
	assert.True(t, result.NoIssue)
	assert.True(t, result.Tier1Executed)
	assert.False(t, result.Tier2Executed)
	assert.False(t, s.Metadata.Usage.Tier2Executed)
	assert.Equal(t, 15, result.TokensUsed)

	assert.Equal(t, 1, f.source.Fetches(capability.Thumbnail))
	assert.Zero(t, f.source.Fetches(capability.Original), "original must not be fetched")
	assert.Empty(t, f.llm.Calls(tv.NodeDiagnose))

	screen := f.llm.Calls(tv.NodeScreen)
	require.Len(t, screen, 1)
	assert.Equal(t, capability.Cheap, screen[0].Config.Tier)
	assert.Equal(t, thumbBytes, screen[0].Prompt.Attachments[0].Data)
}

func TestUncertainWithoutThumbnailEscalatesAndReusesOriginal(t *testing.T) {
	f := newFixture(t)
	f.llm.
		On(tv.NodeScreen, capabilitytest.JSON(tv.ScreenResult{Classification: tv.Uncertain, Confidence: 0.95})).
		On(tv.NodeDiagnose, capabilitytest.JSON(tv.DiagnoseResult{
			PrimaryIssue: "early blight", Confidence: 0.8, Severity: "medium",
			Findings: []string{"lesions"}, Recommendations: []string{"remove affected leaves"},
		}))

	out, s := f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: false}, nil)

	require.True(t, out.Success())
	result, err := state.DecodeOutput[tv.Output](s.Base)
	require.NoError(t, err)
	assert.True(t, result.Tier2Executed, "uncertain escalates despite high confidence")
	assert.Equal(t, "early blight", result.PrimaryIssue)
	assert.Equal(t, "medium", result.Severity)
	assert.False(t, result.NoIssue)
	assert.Equal(t, 30, result.TokensUsed)

	assert.Equal(t, 1, f.source.Fetches(capability.Original), "original fetched once and reused")
	assert.Zero(t, f.source.Fetches(capability.Thumbnail))

	diagnose := f.llm.Calls(tv.NodeDiagnose)
	require.Len(t, diagnose, 1)
	assert.Equal(t, capability.Capable, diagnose[0].Config.Tier)
	assert.Equal(t, originalBytes, diagnose[0].Prompt.Attachments[0].Data)
	assert.Contains(t, diagnose[0].Prompt.User, "Blight shows brown lesions.")
}

func TestEscalationFromThumbnailFetchesOriginalOnce(t *testing.T) {
	f := newFixture(t)
	f.llm.
		On(tv.NodeScreen, capabilitytest.JSON(tv.ScreenResult{Classification: tv.ObviousIssue, Confidence: 0.6})).
		On(tv.NodeDiagnose, capabilitytest.JSON(tv.DiagnoseResult{PrimaryIssue: "rust", Confidence: 0.9}))

	_, s := f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: true}, nil)

	assert.True(t, s.Metadata.Usage.Tier2Executed)
	assert.Equal(t, 1, f.source.Fetches(capability.Thumbnail))
	assert.Equal(t, 1, f.source.Fetches(capability.Original))
}

func TestObviousIssueUsesScreenAsDiagnosis(t *testing.T) {
	f := newFixture(t)
	f.llm.On(tv.NodeScreen, capabilitytest.JSON(tv.ScreenResult{Classification: tv.ObviousIssue, Confidence: 0.75, Findings: []string{"powdery mildew"}}))

	_, s := f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: true}, nil)

	result, err := state.DecodeOutput[tv.Output](s.Base)
	require.NoError(t, err)
	assert.False(t, result.Tier2Executed)
	assert.Equal(t, "powdery mildew", result.PrimaryIssue)
	assert.False(t, result.NoIssue)
}

func TestMissingThumbnailFallsBackToOriginal(t *testing.T) {
	f := newFixture(t)
	f.source.FailWith(capability.Thumbnail, "leaf-1", capability.ErrNotFound)
	f.llm.On(tv.NodeScreen, capabilitytest.JSON(tv.ScreenResult{Classification: tv.Healthy, Confidence: 0.9}))

	out, s := f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: true}, nil)

	require.True(t, out.Success())
	assert.Equal(t, 1, f.source.Fetches(capability.Original))
	assert.Equal(t, originalBytes, f.llm.Calls(tv.NodeScreen)[0].Prompt.Attachments[0].Data)
	assert.Equal(t, originalBytes, s.Original)
}

func TestScreenFailureRoutesToErrorOutput(t *testing.T) {
	f := newFixture(t)
	f.llm.On(tv.NodeScreen, capabilitytest.Fail(capability.ErrAllModelsExhausted))

	out, s := f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: true}, nil)

	assert.False(t, out.Success())
	require.NotNil(t, out.Failure)
	assert.Equal(t, tv.NodeScreen, out.Failure.Node)
	assert.Contains(t, out.Failure.Message, "all models exhausted")

	payload, err := state.DecodeOutput[workflow.ErrorPayload](s.Base)
	require.NoError(t, err)
	assert.Equal(t, tv.NodeScreen, payload.Node)
	assert.Empty(t, f.llm.Calls(tv.NodeDiagnose))
	assert.False(t, s.Metadata.Usage.Tier1Executed)
}

func TestMalformedScreenAnswerFails(t *testing.T) {
	f := newFixture(t)
	f.llm.On(tv.NodeScreen, capabilitytest.JSON(map[string]any{"classification": "dead", "confidence": 0.9}))

	out, _ := f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: true}, nil)

	require.NotNil(t, out.Failure)
	assert.Equal(t, "classification", out.Failure.Field)
	assert.Equal(t, 15, out.Usage.Tokens())
	assert.True(t, out.Usage.Tier1Executed)
}

func TestUnparseableScreenAnswerKeepsUsage(t *testing.T) {
	f := newFixture(t)
	f.llm.On(tv.NodeScreen, capabilitytest.Reply{Text: "not json", TokensIn: 100, TokensOut: 40})

	out, s := f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: true}, nil)

	assert.False(t, out.Success())
	require.NotNil(t, out.Failure)
	assert.Equal(t, tv.NodeScreen, out.Failure.Node)
	assert.Len(t, f.llm.Calls(tv.NodeScreen), 1)

	usage := s.Metadata.Usage
	assert.Equal(t, 140, usage.Tokens(), "billed tokens survive the failure")
	assert.Equal(t, 1, usage.LLMCalls)
	assert.True(t, usage.Tier1Executed)
	assert.False(t, usage.Tier2Executed)
	assert.Equal(t, 140, out.Usage.Tokens())
}

func TestMissingDocIDIsValidationFailure(t *testing.T) {
	f := newFixture(t)

	out, err := f.builder.Execute(context.Background(), workflow.Invocation{ThreadID: "t", Input: json.RawMessage(`{}`)})
	require.NoError(t, err)

	assert.False(t, out.Success())
	require.NotNil(t, out.Failure)
	assert.Equal(t, "doc_id", out.Failure.Field)
	assert.Empty(t, f.llm.Calls(""), "no model call for invalid input")
}

func TestRetriedInvocationDoesNotRunTier2Again(t *testing.T) {
	f := newFixture(t)
	f.llm.
		On(tv.NodeScreen, capabilitytest.JSON(tv.ScreenResult{Classification: tv.Uncertain, Confidence: 0.4})).
		On(tv.NodeDiagnose, capabilitytest.JSON(tv.DiagnoseResult{PrimaryIssue: "rust", Confidence: 0.9}))
	store := checkpoint.NewMemoryStore()

	first, _ := f.run(t, tv.Input{DocID: "leaf-1"}, store)
	second, _ := f.run(t, tv.Input{DocID: "leaf-1"}, store)

	assert.JSONEq(t, string(first.Output), string(second.Output))
	assert.Len(t, f.llm.Calls(tv.NodeDiagnose), 1)
	assert.Len(t, f.llm.Calls(tv.NodeScreen), 1)
}

// interrupting cancels the run during its first screen call.
type interrupting struct {
	capability.LLMGateway
	cancel context.CancelFunc
	fired  bool
}

func (g *interrupting) Complete(ctx context.Context, p capability.Prompt, cfg capability.CallConfig) (capability.Completion, error) {
	if !g.fired && cfg.Purpose == tv.NodeScreen {
		g.fired = true
		g.cancel()
		return capability.Completion{}, context.Canceled
	}
	return g.LLMGateway.Complete(ctx, p, cfg)
}

func TestCheckpointsLeaveImagesOut(t *testing.T) {
	f := newFixture(t)
	f.llm.On(tv.NodeScreen, capabilitytest.JSON(tv.ScreenResult{Classification: tv.Healthy, Confidence: 0.95}))
	store := checkpoint.NewMemoryStore()

	f.run(t, tv.Input{DocID: "leaf-1", HasThumbnail: true}, store)

	cp, err := store.Get(context.Background(), "plant-vision:leaf-1", 1)
	require.NoError(t, err)
	env, err := checkpoint.UnmarshalEnvelope(cp.Blob)
	require.NoError(t, err)
	assert.Equal(t, tv.NodePreprocess, env.NodeID)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.State, &fields))
	assert.Contains(t, fields, "doc_id")
	assert.NotContains(t, fields, "thumbnail")
	assert.NotContains(t, fields, "original")
}

func TestResumedScreenRefetchesImage(t *testing.T) {
	f := newFixture(t)
	f.llm.On(tv.NodeScreen, capabilitytest.JSON(tv.ScreenResult{Classification: tv.Healthy, Confidence: 0.95}))
	store := checkpoint.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, err := tv.New(capability.AgentConfig{ID: "plant-vision", Type: "tiered_vision"}, capability.Set{
		LLM:     &interrupting{LLMGateway: f.llm, cancel: cancel},
		Context: f.source,
	})
	require.NoError(t, err)
	inv := workflow.Invocation{
		ThreadID: "plant-vision:leaf-1",
		Input:    json.RawMessage(`{"doc_id":"leaf-1","has_thumbnail":true}`),
		Store:    store,
	}

	_, err = b.Execute(ctx, inv)
	require.Error(t, err)
	assert.Equal(t, 1, f.source.Fetches(capability.Thumbnail))

	out, err := b.Execute(context.Background(), inv)
	require.NoError(t, err)

	require.True(t, out.Success())
	assert.Equal(t, 2, f.source.Fetches(capability.Thumbnail), "resumed screen fetches the thumbnail again")
	screen := f.llm.Calls(tv.NodeScreen)
	require.Len(t, screen, 1)
	assert.Equal(t, thumbBytes, screen[0].Prompt.Attachments[0].Data)
}

func TestNew_RequiresContextSource(t *testing.T) {
	_, err := tv.New(capability.AgentConfig{ID: "v"}, capability.Set{LLM: capabilitytest.NewGateway()})
	assert.Error(t, err)
}
