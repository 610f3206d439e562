package generator_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability/capabilitytest"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/generator"
)

func scripted(message string) *capabilitytest.Gateway {
	return capabilitytest.NewGateway().
		On(generator.NodePrioritize, capabilitytest.JSON(map[string]any{
			"priorities": []generator.Priority{{Title: "irrigation", Priority: 2}, {Title: "pests", Priority: 1}},
		})).
		On(generator.NodeGenerateReport, capabilitytest.JSON(generator.Report{
			Title: "Field report", Summary: "Pests first, then irrigation.",
			Sections: []generator.Section{{Heading: "Pests", Body: "Aphids on the east side."}},
		})).
		On(generator.NodeTranslateMessage, capabilitytest.JSON(generator.Message{Text: message}))
}

func execute(t *testing.T, llm capability.LLMGateway, src capability.ContextSource, input generator.Input, opts ...generator.Option) (workflow.Outcome, generator.State) {
	t.Helper()
	b, err := generator.New(capability.AgentConfig{ID: "reports", Type: "generator", MaxMessageLength: 40},
		capability.Set{LLM: llm, Context: src}, opts...)
	require.NoError(t, err)

	raw, err := json.Marshal(input)
	require.NoError(t, err)
	out, err := b.Execute(context.Background(), workflow.Invocation{ThreadID: "reports:1", Input: raw})
	require.NoError(t, err)
	s, _ := out.State.(generator.State) // a bare state.Base when the input was rejected
	return out, s
}

func TestGenerator_PassesFirstCheck(t *testing.T) {
	llm := scripted("Treat aphids today.")

	out, s := execute(t, llm, nil, generator.Input{Analyses: []string{"aphids found"}, Language: "es"})

	require.True(t, out.Success())
	result, err := state.DecodeOutput[generator.Output](s.Base)
	require.NoError(t, err)
	assert.True(t, result.QualityPassed)
	assert.False(t, result.Simplified)
	assert.Equal(t, "Treat aphids today.", result.Message)
	assert.Equal(t, "es", result.Language)
	assert.Equal(t, "Field report", result.Report.Title)
	assert.Empty(t, llm.Calls(generator.NodeSimplifyMessage))

	require.Len(t, s.Priorities, 2)
	assert.Equal(t, "pests", s.Priorities[0].Title, "priorities sorted ascending")
	assert.Equal(t, capability.Capable, llm.Calls(generator.NodeGenerateReport)[0].Config.Tier)
	assert.Contains(t, llm.Calls(generator.NodeTranslateMessage)[0].Prompt.User, `"es"`)
}

func TestGenerator_SimplifiesOnce(t *testing.T) {
	llm := scripted(strings.Repeat("too long ", 10)).
		On(generator.NodeSimplifyMessage, capabilitytest.JSON(generator.Message{Text: "Spray aphids now."}))

	out, s := execute(t, llm, nil, generator.Input{Analyses: []string{"aphids"}})

	require.True(t, out.Success())
	result, err := state.DecodeOutput[generator.Output](s.Base)
	require.NoError(t, err)
	assert.True(t, result.QualityPassed)
	assert.True(t, result.Simplified)
	assert.Equal(t, "Spray aphids now.", result.Message)
	assert.Len(t, llm.Calls(generator.NodeSimplifyMessage), 1)
}

func TestGenerator_AlwaysFailingCheckerTerminates(t *testing.T) {
	llm := scripted("fine").
		On(generator.NodeSimplifyMessage, capabilitytest.JSON(generator.Message{Text: "still fine"}))
	checks := 0
	rejectAll := func(context.Context, string, int) (generator.Quality, error) {
		checks++
		return generator.Quality{Passed: false, Issues: []string{"tone"}}, nil
	}

	out, s := execute(t, llm, nil, generator.Input{Analyses: []string{"aphids"}}, generator.WithQualityChecker(rejectAll))

	assert.Nil(t, out.Failure)
	result, err := state.DecodeOutput[generator.Output](s.Base)
	require.NoError(t, err)
	assert.False(t, result.QualityPassed)
	assert.Equal(t, []string{"tone"}, result.QualityIssues)
	assert.Equal(t, 2, checks, "checked once, simplified once, checked again")
	assert.Len(t, llm.Calls(generator.NodeSimplifyMessage), 1)
	assert.Equal(t, 1, s.SimplifyAttempts)
}

func TestGenerator_FetchesAnalysesByID(t *testing.T) {
	src := capabilitytest.NewSource().Put(capability.Document, "a1", []byte("analysis one"))
	llm := scripted("ok")

	out, s := execute(t, llm, src, generator.Input{AnalysisIDs: []string{"a1", "missing"}})

	require.True(t, out.Success())
	assert.Equal(t, []string{"analysis one"}, s.Analyses)
	assert.Equal(t, 2, src.Fetches(capability.Document))
	assert.Contains(t, llm.Calls(generator.NodePrioritize)[0].Prompt.User, "analysis one")
}

func TestGenerator_NoFetchableAnalysesFails(t *testing.T) {
	src := capabilitytest.NewSource()

	out, _ := execute(t, scripted("ok"), src, generator.Input{AnalysisIDs: []string{"gone"}})

	require.NotNil(t, out.Failure)
	assert.Equal(t, generator.NodeFetchAnalyses, out.Failure.Node)
}

func TestGenerator_ValidatesInput(t *testing.T) {
	out, _ := execute(t, scripted("ok"), nil, generator.Input{})

	require.NotNil(t, out.Failure)
	assert.Equal(t, "analysis_ids", out.Failure.Field)
}

func TestGenerator_ModelFailureRoutesToErrorOutput(t *testing.T) {
	llm := capabilitytest.NewGateway().
		On(generator.NodePrioritize, capabilitytest.JSON(map[string]any{"priorities": []any{}})).
		On(generator.NodeGenerateReport, capabilitytest.Fail(capability.ErrAllModelsExhausted))

	out, s := execute(t, llm, nil, generator.Input{Analyses: []string{"x"}})

	require.NotNil(t, out.Failure)
	assert.Equal(t, generator.NodeGenerateReport, out.Failure.Node)
	payload, err := state.DecodeOutput[workflow.ErrorPayload](s.Base)
	require.NoError(t, err)
	assert.Equal(t, generator.NodeGenerateReport, payload.Node)
}

func TestQualityRouting(t *testing.T) {
	table := generator.QualityRouting()

	passed := generator.State{Quality: &generator.Quality{Passed: true}}
	firstFail := generator.State{Quality: &generator.Quality{}}
	secondFail := generator.State{Quality: &generator.Quality{}, SimplifyAttempts: 1}

	assert.Equal(t, generator.NodeOutput, table.Decide(passed))
	assert.Equal(t, generator.NodeSimplifyMessage, table.Decide(firstFail))
	assert.Equal(t, generator.NodeOutput, table.Decide(secondFail))
}

func TestCheckLength(t *testing.T) {
	ctx := context.Background()

	q, err := generator.CheckLength(ctx, "ñandú ñandú", 11)
	require.NoError(t, err)
	assert.True(t, q.Passed, "limit counts characters, not bytes")

	q, _ = generator.CheckLength(ctx, "", 10)
	assert.False(t, q.Passed)

	q, _ = generator.CheckLength(ctx, "hello ${name}", 100)
	assert.False(t, q.Passed)
	assert.Len(t, q.Issues, 1)
}
