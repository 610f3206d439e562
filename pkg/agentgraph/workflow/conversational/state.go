package conversational

import (
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// Channel is the output format of a response.
type Channel string

const (
	Text  Channel = "text"
	Voice Channel = "voice"
)

// Input is one turn's input.
type Input struct {
	Message string `json:"message"`
	// EntityID names what the conversation is about (a field, an order).
	// It carries over between turns when omitted.
	EntityID string  `json:"entity_id,omitempty"`
	Channel  Channel `json:"channel,omitempty"`
}

// Intent is the classified purpose of a message.
type Intent struct {
	Name       string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	// Farewell is set when the user is closing the conversation.
	Farewell bool `json:"farewell"`
}

// Reply is the model's answer.
type Reply struct {
	Text      string `json:"text"`
	ShouldEnd bool   `json:"should_end"`
}

// Turn is one exchange of the session history.
type Turn struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Intent    string    `json:"intent,omitempty"`
	At        time.Time `json:"at"`
}

// Output is one turn's result.
type Output struct {
	Response  string  `json:"response"`
	Channel   Channel `json:"channel"`
	Intent    string  `json:"intent,omitempty"`
	TurnCount int     `json:"turn_count"`
	ShouldEnd bool    `json:"should_end"`
	// History is included when the session ends.
	History []Turn `json:"history,omitempty"`
}

// State is the conversational workflow state. It spans the whole session:
// per-turn fields are reset when the next turn arrives.
type State struct {
	state.Base

	// Session.
	EntityID      string `json:"entity_id,omitempty"`
	TurnCount     int    `json:"turn_count"`
	History       []Turn `json:"session_history"`
	ShouldEnd     bool   `json:"should_end"`
	SessionTokens int    `json:"session_tokens"`

	// Current turn.
	Message   string                   `json:"message"`
	Channel   Channel                  `json:"channel"`
	Intent    *Intent                  `json:"intent,omitempty"`
	Context   string                   `json:"context,omitempty"`
	Knowledge []capability.RankedChunk `json:"knowledge,omitempty"`
	Reply     *Reply                   `json:"reply,omitempty"`
	Formatted string                   `json:"formatted,omitempty"`
}

// WithNodeFailure implements agentgraph.Failable.
func (s State) WithNodeFailure(node string, err error) State {
	s.Fail(node, err)
	return s
}

// ContinueWith implements agentgraph.Continuable. The stored session takes
// the next turn's input; an ended session is replaced by next.
func (s State) ContinueWith(next State) State {
	if s.ShouldEnd {
		return next
	}
	s.Input = next.Input
	s.Output = nil
	s.Intermediate = nil
	s.ClearFailure()
	s.Metadata.CorrelationID = next.Metadata.CorrelationID
	s.Metadata.StartedAt = next.Metadata.StartedAt
	s.Metadata.Usage = state.Usage{}

	s.Message = next.Message
	s.Channel = next.Channel
	if next.EntityID != "" {
		s.EntityID = next.EntityID
	}
	s.Intent = nil
	s.Context = ""
	s.Knowledge = nil
	s.Reply = nil
	s.Formatted = ""
	return s
}
