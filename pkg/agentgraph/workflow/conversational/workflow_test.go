package conversational_test

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
	conv "github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/conversational"
)

type session struct {
	t       *testing.T
	llm     *capabilitytest.Gateway
	source  *capabilitytest.Source
	store   checkpoint.Store
	builder *workflow.GraphBuilder[conv.State]
}

func newSession(t *testing.T, cfg capability.AgentConfig) *session {
	t.Helper()
	s := &session{
		t:      t,
		llm:    capabilitytest.NewGateway(),
		source: capabilitytest.NewSource().Put(capability.Document, "field-7", []byte("Field 7: maize, planted in May")),
		store:  checkpoint.NewMemoryStore(),
	}
	cfg.ID, cfg.Type = "chat", "conversational"
	b, err := conv.New(cfg, capability.Set{LLM: s.llm, Context: s.source, Retriever: &capabilitytest.Retriever{}})
	require.NoError(t, err)
	s.builder = b
	return s
}

func (s *session) say(in conv.Input) (workflow.Outcome, conv.State, conv.Output) {
	s.t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(s.t, err)
	out, err := s.builder.Execute(context.Background(), workflow.Invocation{
		ThreadID: "chat:session-1",
		Input:    raw,
		Store:    s.store,
	})
	require.NoError(s.t, err)
	st, _ := out.State.(conv.State) // a bare state.Base when the input was rejected
	var turn conv.Output
	if out.Failure == nil {
		turn, err = state.DecodeOutput[conv.Output](st.Base)
		require.NoError(s.t, err)
	}
	return out, st, turn
}

func intent(name string, farewell bool) capabilitytest.Reply {
	return capabilitytest.JSON(conv.Intent{Name: name, Confidence: 0.9, Farewell: farewell})
}

func reply(text string, end bool) capabilitytest.Reply {
	return capabilitytest.JSON(conv.Reply{Text: text, ShouldEnd: end})
}

func TestSingleTurn(t *testing.T) {
	s := newSession(t, capability.AgentConfig{})
	s.llm.On(conv.NodeClassifyIntent, intent("question", false)).
		On(conv.NodeGenerateResponse, reply("  Water twice a week. ", false))

	out, st, turn := s.say(conv.Input{Message: "How often should I water?", EntityID: "field-7"})

	require.True(t, out.Success())
	assert.Equal(t, "Water twice a week.", turn.Response)
	assert.Equal(t, conv.Text, turn.Channel)
	assert.Equal(t, 1, turn.TurnCount)
	assert.False(t, turn.ShouldEnd)
	assert.Empty(t, turn.History, "history only on the final turn")
	assert.Equal(t, "Field 7: maize, planted in May", st.Context)

	gen := s.llm.Calls(conv.NodeGenerateResponse)
	require.Len(t, gen, 1)
	assert.Contains(t, gen[0].Prompt.User, "maize")
	assert.Equal(t, capability.Capable, gen[0].Config.Tier)
	assert.Equal(t, capability.Cheap, s.llm.Calls(conv.NodeClassifyIntent)[0].Config.Tier)
}

func TestVoiceChannelStripsMarkup(t *testing.T) {
	s := newSession(t, capability.AgentConfig{})
	s.llm.On(conv.NodeClassifyIntent, intent("question", false)).
		On(conv.NodeGenerateResponse, reply("**Water** the [east field](http://x.example)\n\nnow.", false))

	_, _, turn := s.say(conv.Input{Message: "what now?", Channel: conv.Voice})

	assert.Equal(t, conv.Voice, turn.Channel)
	assert.Equal(t, "Water the east field now.", turn.Response)
}

func TestMaxTurnsForcesEnd(t *testing.T) {
	s := newSession(t, capability.AgentConfig{MaxTurns: 5})
	s.llm.On(conv.NodeClassifyIntent, intent("chat", false)).
		On(conv.NodeGenerateResponse, reply("Tell me more.", false))

	for i := 1; i <= 4; i++ {
		_, _, turn := s.say(conv.Input{Message: "hello"})
		assert.Equal(t, i, turn.TurnCount)
		assert.False(t, turn.ShouldEnd, "turn %d", i)
	}

	_, st, turn := s.say(conv.Input{Message: "hello"})
	assert.Equal(t, 5, turn.TurnCount)
	assert.True(t, turn.ShouldEnd, "the fifth turn ends the session")
	assert.Len(t, turn.History, 5)
	assert.True(t, st.ShouldEnd)

	_, _, next := s.say(conv.Input{Message: "hello again"})
	assert.Equal(t, 1, next.TurnCount, "an ended session is replaced by a new one")
}

func TestModelEndsSession(t *testing.T) {
	s := newSession(t, capability.AgentConfig{})
	s.llm.On(conv.NodeClassifyIntent, intent("thanks", false)).
		On(conv.NodeGenerateResponse, reply("Glad to help.", true))

	_, _, turn := s.say(conv.Input{Message: "that's all"})

	assert.True(t, turn.ShouldEnd)
	assert.Len(t, turn.History, 1)
}

func TestFarewellIntentEndsSession(t *testing.T) {
	s := newSession(t, capability.AgentConfig{})
	s.llm.On(conv.NodeClassifyIntent, intent("goodbye", true)).
		On(conv.NodeGenerateResponse, reply("Bye!", false))

	_, _, turn := s.say(conv.Input{Message: "bye"})

	assert.True(t, turn.ShouldEnd)
}

func TestSessionCarriesAcrossTurns(t *testing.T) {
	s := newSession(t, capability.AgentConfig{})
	s.llm.On(conv.NodeClassifyIntent, intent("question", false)).
		On(conv.NodeGenerateResponse, reply("First answer.", false), reply("Second answer.", false))

	_, first, _ := s.say(conv.Input{Message: "first question", EntityID: "field-7"})
	_, second, turn := s.say(conv.Input{Message: "second question"})

	assert.Equal(t, "Second answer.", turn.Response)
	assert.Equal(t, 2, second.TurnCount)
	assert.Equal(t, "field-7", second.EntityID, "entity carries over")
	assert.Equal(t, 2, s.source.Fetches(capability.Document))
	require.Len(t, second.History, 2)
	assert.Equal(t, "first question", second.History[0].User)
	assert.Equal(t, "First answer.", second.History[0].Assistant)

	assert.Equal(t, first.Metadata.Usage.Tokens(), second.Metadata.Usage.Tokens(), "usage is per turn")
	assert.Equal(t, 2*first.Metadata.Usage.Tokens(), second.SessionTokens)

	prompt := s.llm.Calls(conv.NodeGenerateResponse)[1].Prompt.User
	assert.Contains(t, prompt, "User: first question")
	assert.Contains(t, prompt, "turn 2 of at most 5")
}

func TestFailedTurnDoesNotAdvanceSession(t *testing.T) {
	s := newSession(t, capability.AgentConfig{})
	s.llm.On(conv.NodeClassifyIntent, intent("question", false)).
		On(conv.NodeGenerateResponse,
			capabilitytest.Fail(capability.ErrAllModelsExhausted),
			reply("Recovered.", false))

	out, st, _ := s.say(conv.Input{Message: "hi"})
	require.NotNil(t, out.Failure)
	assert.Equal(t, conv.NodeGenerateResponse, out.Failure.Node)
	assert.Zero(t, st.TurnCount)

	out, _, turn := s.say(conv.Input{Message: "hi again"})
	require.True(t, out.Success())
	assert.Equal(t, 1, turn.TurnCount)
	assert.Equal(t, "Recovered.", turn.Response)
}

func TestInputValidation(t *testing.T) {
	s := newSession(t, capability.AgentConfig{})

	out, _, _ := s.say(conv.Input{Message: " "})
	require.NotNil(t, out.Failure)
	assert.Equal(t, "message", out.Failure.Field)

	out, _, _ = s.say(conv.Input{Message: "hi", Channel: "fax"})
	require.NotNil(t, out.Failure)
	assert.Equal(t, "channel", out.Failure.Field)
}

func TestRoutingTables(t *testing.T) {
	assert.Equal(t, conv.NodeFormatVoice, conv.ChannelRouting().Decide(conv.State{Channel: conv.Voice}))
	assert.Equal(t, conv.NodeFormatText, conv.ChannelRouting().Decide(conv.State{Channel: conv.Text}))
	assert.Equal(t, conv.NodeEndSession, conv.SessionRouting().Decide(conv.State{ShouldEnd: true}))
	assert.Equal(t, conv.NodeContinueSession, conv.SessionRouting().Decide(conv.State{}))
}
