// Package capability defines the external collaborators workflows call
// into: the LLM gateway, the knowledge retriever, the context source for
// documents and images, and the agent configuration store.
//
// Implementations live outside the engine. The package also ships thin
// HTTP clients for each capability and the file-backed configuration store.
package capability

import (
	"context"
	"errors"
)

// Tier selects the model class for a call.
type Tier string

const (
	// Cheap is the fast, inexpensive model used for triage and screening.
	Cheap Tier = "cheap"
	// Capable is the expensive model used for deep analysis and generation.
	Capable Tier = "capable"
)

// Attachment is binary context sent along with a prompt.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Prompt is a rendered request.
type Prompt struct {
	System      string       `json:"system,omitempty"`
	User        string       `json:"user"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// CallConfig carries per-call model parameters.
type CallConfig struct {
	Tier Tier `json:"tier"`

	// Purpose names the calling node, for routing and cost attribution.
	Purpose string `json:"purpose,omitempty"`

	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

// Completion is a model response.
type Completion struct {
	Text      string `json:"text"`
	Model     string `json:"model"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}

// LLMGateway performs model calls. Retries and model fallback happen
// behind it; when they are exhausted it returns ErrAllModelsExhausted.
type LLMGateway interface {
	Complete(ctx context.Context, prompt Prompt, cfg CallConfig) (Completion, error)
}

// RankedChunk is one retrieval hit.
type RankedChunk struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// Retriever queries the knowledge base.
type Retriever interface {
	Query(ctx context.Context, text string) ([]RankedChunk, error)
}

// ContentKind selects which rendition of a document to fetch.
type ContentKind string

const (
	Thumbnail ContentKind = "thumbnail"
	Original  ContentKind = "original"
	Document  ContentKind = "document"
)

// ContextSource fetches documents and images. It fails with ErrNotFound
// or an error wrapping ErrTransient.
type ContextSource interface {
	Fetch(ctx context.Context, kind ContentKind, id string) ([]byte, error)
}

// ConfigStore resolves agent configurations.
type ConfigStore interface {
	// Get returns the configuration for agentID or an error wrapping ErrNotFound.
	Get(ctx context.Context, agentID string) (AgentConfig, error)
	// List returns every known configuration, ordered by ID.
	List(ctx context.Context) ([]AgentConfig, error)
}

// Set bundles the capabilities a workflow needs. Retriever and Context may
// be nil for workflows that don't use them.
type Set struct {
	LLM       LLMGateway
	Retriever Retriever
	Context   ContextSource
}

// Validate checks that the LLM gateway is present.
func (s Set) Validate() error {
	if s.LLM == nil {
		return errors.New("capability set: LLM gateway is required")
	}
	return nil
}

type capabilityError struct {
	msg       string
	temporary bool
}

func (e *capabilityError) Error() string   { return e.msg }
func (e *capabilityError) Temporary() bool { return e.temporary }

// Capability failures. Wrap them with fmt.Errorf("%w: ...") to add detail;
// error categorisation sees through the wrapping.
var (
	ErrNotFound           error = &capabilityError{msg: "not found"}
	ErrTransient          error = &capabilityError{msg: "transient failure", temporary: true}
	ErrAllModelsExhausted error = &capabilityError{msg: "all models exhausted"}
)
