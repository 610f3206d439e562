// Package state defines the execution state shared by every workflow type.
//
// Each workflow has its own concrete state struct that embeds Base and adds
// its type-specific fields. The engine and the execution service only see
// the common part, through the State interface; the type-specific fields
// are reachable only inside the owning workflow's nodes.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
)

// WorkflowType identifies one of the closed set of workflow kinds.
type WorkflowType string

const (
	Extractor      WorkflowType = "extractor"
	Explorer       WorkflowType = "explorer"
	Generator      WorkflowType = "generator"
	Conversational WorkflowType = "conversational"
	TieredVision   WorkflowType = "tiered_vision"
)

// WorkflowTypes lists every supported workflow type.
var WorkflowTypes = []WorkflowType{Extractor, Explorer, Generator, Conversational, TieredVision}

// Valid reports whether t is one of WorkflowTypes.
func (t WorkflowType) Valid() bool {
	return slices.Contains(WorkflowTypes, t)
}

// ErrUnknownWorkflowType is returned by ParseWorkflowType.
var ErrUnknownWorkflowType = errors.New("unknown workflow type")

// ParseWorkflowType converts a configuration value into a WorkflowType.
func ParseWorkflowType(s string) (WorkflowType, error) {
	t := WorkflowType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownWorkflowType, s)
	}
	return t, nil
}

// ErrOutputSealed is returned when a node tries to record an intermediate
// result after the output has been set.
var ErrOutputSealed = errors.New("output already set; state is sealed")

// Failure describes a captured node failure.
type Failure struct {
	Node     string            `json:"node"`
	Message  string            `json:"message"`
	Category agerrors.Category `json:"category"`
	// Field is set for validation failures.
	Field string    `json:"field,omitempty"`
	At    time.Time `json:"at"`
}

// Usage accumulates model usage for cost reporting.
type Usage struct {
	TokensIn   int      `json:"tokens_in"`
	TokensOut  int      `json:"tokens_out"`
	LLMCalls   int      `json:"llm_calls"`
	ModelsUsed []string `json:"models_used,omitempty"`

	Tier1Executed bool `json:"tier1_executed,omitempty"`
	Tier2Executed bool `json:"tier2_executed,omitempty"`
}

// Add records one model call.
func (u *Usage) Add(model string, tokensIn, tokensOut int) {
	u.TokensIn += tokensIn
	u.TokensOut += tokensOut
	u.LLMCalls++
	if model != "" && !slices.Contains(u.ModelsUsed, model) {
		u.ModelsUsed = append(u.ModelsUsed, model)
	}
}

// Tokens returns the total token count.
func (u Usage) Tokens() int {
	return u.TokensIn + u.TokensOut
}

// LastModel returns the most recently added distinct model.
func (u Usage) LastModel() string {
	if len(u.ModelsUsed) == 0 {
		return ""
	}
	return u.ModelsUsed[len(u.ModelsUsed)-1]
}

// Metadata carries run identity and accounting.
type Metadata struct {
	CorrelationID string    `json:"correlation_id"`
	AgentID       string    `json:"agent_id"`
	StartedAt     time.Time `json:"started_at"`
	Usage         Usage     `json:"usage"`
}

// Base is the part of the state every workflow shares.
type Base struct {
	ThreadID     string                     `json:"thread_id"`
	WorkflowType WorkflowType               `json:"workflow_type"`
	Input        json.RawMessage            `json:"input"`
	Intermediate map[string]json.RawMessage `json:"intermediate,omitempty"`
	Output       json.RawMessage            `json:"output,omitempty"`
	Failure      *Failure                   `json:"error,omitempty"`
	Metadata     Metadata                   `json:"metadata"`
}

// State is implemented by every concrete workflow state through its
// embedded Base.
type State interface {
	Core() Base
}

// NewBase creates the common state for a new run. input is serialized once
// and never changed afterwards.
func NewBase(wt WorkflowType, threadID string, input any, meta Metadata) (Base, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return Base{}, fmt.Errorf("encode input: %w", err)
	}
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now().UTC()
	}
	return Base{
		ThreadID:     threadID,
		WorkflowType: wt,
		Input:        raw,
		Metadata:     meta,
	}, nil
}

// Core returns the common state.
func (b Base) Core() Base { return b }

// Done reports whether the output has been set.
func (b Base) Done() bool { return len(b.Output) > 0 }

// Failed reports whether a failure was captured.
func (b Base) Failed() bool { return b.Failure != nil }

// Record stores a node's partial result under the node name.
func (b *Base) Record(node string, v any) error {
	if b.Done() {
		return fmt.Errorf("record %s: %w", node, ErrOutputSealed)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("record %s: %w", node, err)
	}
	// Copy on write: states are passed by value and the map would
	// otherwise be shared with the caller's copy.
	next := make(map[string]json.RawMessage, len(b.Intermediate)+1)
	maps.Copy(next, b.Intermediate)
	next[node] = raw
	b.Intermediate = next
	return nil
}

// SetOutput sets the final result. Only terminal nodes call it, once.
func (b *Base) SetOutput(v any) error {
	if b.Done() {
		return ErrOutputSealed
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	b.Output = raw
	return nil
}

// Fail records err as the run's failure at node.
func (b *Base) Fail(node string, err error) {
	f := &Failure{
		Node:     node,
		Message:  err.Error(),
		Category: agerrors.Categorize(err),
		At:       time.Now().UTC(),
	}
	var vErr *agerrors.ValidationError
	if errors.As(err, &vErr) {
		f.Field = vErr.Field
	}
	b.Failure = f
}

// ClearFailure drops a captured failure, used when a workflow starts a new turn.
func (b *Base) ClearFailure() {
	b.Failure = nil
}

// DecodeInput unmarshals the run input.
func DecodeInput[T any](b Base) (T, error) {
	var v T
	if err := json.Unmarshal(b.Input, &v); err != nil {
		return v, agerrors.Validation("input", "malformed input: %v", err)
	}
	return v, nil
}

// Lookup decodes the intermediate result a node recorded.
func Lookup[T any](b Base, node string) (T, bool, error) {
	var v T
	raw, ok := b.Intermediate[node]
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, true, fmt.Errorf("decode %s result: %w", node, err)
	}
	return v, true, nil
}

// DecodeOutput unmarshals the final output.
func DecodeOutput[T any](b Base) (T, error) {
	var v T
	if !b.Done() {
		return v, errors.New("output not set")
	}
	err := json.Unmarshal(b.Output, &v)
	return v, err
}
