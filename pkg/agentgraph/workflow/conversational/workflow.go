// Package conversational implements the bounded multi-turn session workflow.
//
// Each invocation runs one turn:
//
//	identify_entity -> classify_intent -> fetch_context -> retrieve_knowledge
//	    -> generate_response -> {format_voice | format_text} -> update_history
//	    -> {end_session | continue_session}
//
// The session lives in the thread's checkpoints. The next invocation with
// the same thread ID continues it; a session ends when the model or the
// user says so, or when it reaches the agent's max_turns.
package conversational

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/route"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
)

// Node names.
const (
	NodeIdentifyEntity    = "identify_entity"
	NodeClassifyIntent    = "classify_intent"
	NodeFetchContext      = "fetch_context"
	NodeRetrieveKnowledge = "retrieve_knowledge"
	NodeGenerateResponse  = "generate_response"
	NodeFormatVoice       = "format_voice"
	NodeFormatText        = "format_text"
	NodeUpdateHistory     = "update_history"
	NodeEndSession        = "end_session"
	NodeContinueSession   = "continue_session"
	NodeErrorOutput       = "error_output"
)

const intentPrompt = `Classify the user's message.
Message: ${message}
Answer with JSON: {"intent": "...", "confidence": 0.0-1.0, "farewell": true|false}`

const responsePrompt = `You are a helpful assistant in an ongoing conversation (turn ${turn} of at most ${max_turns}).
About: ${context}
Reference knowledge:
${knowledge}
Conversation so far:
${history}
User (${intent}): ${message}
Answer with JSON: {"text": "...", "should_end": true|false}`

type nodes struct {
	cfg     capability.AgentConfig
	caps    capability.Set
	prompts workflow.Prompts
}

// New creates the builder for an agent.
func New(cfg capability.AgentConfig, caps capability.Set) (*workflow.GraphBuilder[State], error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	n := &nodes{cfg: cfg, caps: caps, prompts: workflow.NewPrompts(cfg)}
	return workflow.New(workflow.Definition[State]{
		Type:     state.Conversational,
		Agent:    cfg,
		Graph:    n.graph,
		NewState: newState,
	}), nil
}

// Factory adapts New to workflow.Factory.
func Factory(cfg capability.AgentConfig, caps capability.Set) (workflow.Builder, error) {
	return New(cfg, caps)
}

func newState(base state.Base) (State, error) {
	in, err := state.DecodeInput[Input](base)
	if err != nil {
		return State{}, err
	}
	if strings.TrimSpace(in.Message) == "" {
		return State{}, agerrors.Validation("message", "is required")
	}
	switch in.Channel {
	case "":
		in.Channel = Text
	case Text, Voice:
	default:
		return State{}, agerrors.Validation("channel", "must be %q or %q, got %q", Text, Voice, in.Channel)
	}
	return State{Base: base, Message: in.Message, Channel: in.Channel, EntityID: in.EntityID}, nil
}

func (n *nodes) graph() *agentgraph.Graph[State] {
	return agentgraph.NewGraph[State]().
		Named("conversational").
		AddNode(NodeIdentifyEntity, identifyEntity).
		AddNode(NodeClassifyIntent, n.classifyIntent).
		AddNode(NodeFetchContext, n.fetchContext).
		AddNode(NodeRetrieveKnowledge, n.retrieveKnowledge).
		AddNode(NodeGenerateResponse, n.generateResponse).
		AddNode(NodeFormatVoice, formatVoice).
		AddNode(NodeFormatText, formatText).
		AddNode(NodeUpdateHistory, n.updateHistory).
		AddNode(NodeEndSession, endSession).
		AddNode(NodeContinueSession, continueSession).
		AddNode(NodeErrorOutput, errorOutput).
		AddConditionalEdge(NodeIdentifyEntity, route.Then[State](NodeClassifyIntent, NodeErrorOutput)).
		AddConditionalEdge(NodeClassifyIntent, route.Then[State](NodeFetchContext, NodeErrorOutput)).
		AddEdge(NodeFetchContext, NodeRetrieveKnowledge).
		AddEdge(NodeRetrieveKnowledge, NodeGenerateResponse).
		AddConditionalEdge(NodeGenerateResponse, ChannelRouting().Router()).
		AddConditionalEdge(NodeFormatVoice, route.Then[State](NodeUpdateHistory, NodeErrorOutput)).
		AddConditionalEdge(NodeFormatText, route.Then[State](NodeUpdateHistory, NodeErrorOutput)).
		AddConditionalEdge(NodeUpdateHistory, SessionRouting().Router()).
		AddEdge(NodeEndSession, agentgraph.END).
		AddEdge(NodeContinueSession, agentgraph.END).
		AddEdge(NodeErrorOutput, agentgraph.END).
		SetEntry(NodeIdentifyEntity)
}

// ChannelRouting picks the response formatter.
func ChannelRouting() route.Table[State] {
	return route.New(NodeFormatText,
		route.OnFailure[State](NodeErrorOutput),
		route.When("voice", func(s State) bool { return s.Channel == Voice }, NodeFormatVoice),
	)
}

// SessionRouting ends the session once update_history decided so.
func SessionRouting() route.Table[State] {
	return route.New(NodeContinueSession,
		route.OnFailure[State](NodeErrorOutput),
		route.When("should_end", func(s State) bool { return s.ShouldEnd }, NodeEndSession),
	)
}

func identifyEntity(ctx agentgraph.Context, s State) (State, error) {
	if s.EntityID == "" {
		ctx.Logger().Debug("no entity for this conversation")
		return s, nil
	}
	return s, s.Record(NodeIdentifyEntity, map[string]string{"entity_id": s.EntityID})
}

func (n *nodes) classifyIntent(ctx agentgraph.Context, s State) (State, error) {
	user, err := n.prompts.Render(NodeClassifyIntent, intentPrompt, workflow.Vars(s.Base, map[string]any{
		"message": s.Message,
	}))
	if err != nil {
		return s, err
	}
	intent, err := workflow.CompleteJSON[Intent](ctx, n.caps.LLM, &s.Base,
		capability.Prompt{User: user}, n.cfg.Call(capability.Cheap, NodeClassifyIntent))
	if err != nil {
		return s, err
	}
	s.Intent = &intent
	return s, s.Record(NodeClassifyIntent, intent)
}

func (n *nodes) fetchContext(ctx agentgraph.Context, s State) (State, error) {
	s.Context = string(workflow.FetchOptional(ctx, n.caps.Context, capability.Document, s.EntityID))
	return s, nil
}

func (n *nodes) retrieveKnowledge(ctx agentgraph.Context, s State) (State, error) {
	s.Knowledge = workflow.RetrieveOptional(ctx, n.caps.Retriever, s.Message)
	return s, nil
}

func (n *nodes) generateResponse(ctx agentgraph.Context, s State) (State, error) {
	intent := "unknown"
	if s.Intent != nil {
		intent = s.Intent.Name
	}
	about := s.Context
	if about == "" {
		about = "(no context)"
	}
	user, err := n.prompts.Render(NodeGenerateResponse, responsePrompt, workflow.Vars(s.Base, map[string]any{
		"turn":      s.TurnCount + 1,
		"max_turns": n.cfg.MaxTurns,
		"context":   about,
		"knowledge": workflow.Knowledge(s.Knowledge),
		"history":   transcript(s.History),
		"intent":    intent,
		"message":   s.Message,
	}))
	if err != nil {
		return s, err
	}
	reply, err := workflow.CompleteJSON[Reply](ctx, n.caps.LLM, &s.Base,
		capability.Prompt{System: n.prompts.System(""), User: user}, n.cfg.Call(capability.Capable, NodeGenerateResponse))
	if err != nil {
		return s, err
	}
	if strings.TrimSpace(reply.Text) == "" {
		return s, agerrors.Validation("text", "model returned an empty response")
	}
	s.Reply = &reply
	return s, s.Record(NodeGenerateResponse, reply)
}

func transcript(history []Turn) string {
	if len(history) == 0 {
		return "(new conversation)"
	}
	var sb strings.Builder
	for _, t := range history {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", t.User, t.Assistant)
	}
	return sb.String()
}

var (
	markdown   = regexp.MustCompile("[*_`#>]+")
	links      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	whitespace = regexp.MustCompile(`\s+`)
)

// formatVoice strips markup the speech synthesizer would read aloud.
func formatVoice(ctx agentgraph.Context, s State) (State, error) {
	text := links.ReplaceAllString(s.Reply.Text, "$1")
	text = markdown.ReplaceAllString(text, "")
	s.Formatted = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	return s, nil
}

func formatText(ctx agentgraph.Context, s State) (State, error) {
	s.Formatted = strings.TrimSpace(s.Reply.Text)
	return s, nil
}

func (n *nodes) updateHistory(ctx agentgraph.Context, s State) (State, error) {
	turn := Turn{User: s.Message, Assistant: s.Formatted, At: time.Now().UTC()}
	if s.Intent != nil {
		turn.Intent = s.Intent.Name
	}
	history := make([]Turn, len(s.History), len(s.History)+1)
	copy(history, s.History)
	s.History = append(history, turn)
	s.TurnCount++
	s.SessionTokens += s.Metadata.Usage.Tokens()

	wantsEnd := s.Reply.ShouldEnd || (s.Intent != nil && s.Intent.Farewell)
	s.ShouldEnd = wantsEnd || s.TurnCount >= n.cfg.MaxTurns
	if s.ShouldEnd && !wantsEnd {
		ctx.Logger().Info("session reached max turns", "max_turns", n.cfg.MaxTurns)
	}
	return s, nil
}

func turnOutput(s State) Output {
	out := Output{
		Response:  s.Formatted,
		Channel:   s.Channel,
		TurnCount: s.TurnCount,
		ShouldEnd: s.ShouldEnd,
	}
	if s.Intent != nil {
		out.Intent = s.Intent.Name
	}
	return out
}

func endSession(ctx agentgraph.Context, s State) (State, error) {
	out := turnOutput(s)
	out.History = s.History
	ctx.Logger().Info("session ended", "turns", s.TurnCount, "session_tokens", s.SessionTokens)
	return s, s.SetOutput(out)
}

func continueSession(ctx agentgraph.Context, s State) (State, error) {
	return s, s.SetOutput(turnOutput(s))
}

func errorOutput(ctx agentgraph.Context, s State) (State, error) {
	return s, workflow.ErrorOutput(ctx, &s.Base)
}
