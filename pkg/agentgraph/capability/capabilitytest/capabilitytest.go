// Package capabilitytest provides scripted capability implementations for
// tests and local runs.
package capabilitytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
)

// Reply is one scripted model response.
type Reply struct {
	Text      string
	Err       error
	TokensIn  int
	TokensOut int
}

// JSON builds a reply whose text is v encoded as JSON.
func JSON(v any) Reply {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("capabilitytest: encode reply: %v", err))
	}
	return Reply{Text: string(b), TokensIn: 10, TokensOut: 5}
}

// Fail builds a failing reply.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Gateway answers model calls by CallConfig.Purpose. Replies for a purpose
// are consumed in order; the last one repeats.
type Gateway struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []Call
}

// Call is a recorded model call.
type Call struct {
	Prompt capability.Prompt
	Config capability.CallConfig
}

// NewGateway creates an empty gateway.
func NewGateway() *Gateway {
	return &Gateway{replies: make(map[string][]Reply)}
}

// On scripts the replies for purpose.
func (g *Gateway) On(purpose string, replies ...Reply) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[purpose] = append(g.replies[purpose], replies...)
	return g
}

// Complete implements capability.LLMGateway.
func (g *Gateway) Complete(ctx context.Context, prompt capability.Prompt, cfg capability.CallConfig) (capability.Completion, error) {
	if err := ctx.Err(); err != nil {
		return capability.Completion{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, Call{Prompt: prompt, Config: cfg})
	queue := g.replies[cfg.Purpose]
	if len(queue) == 0 {
		return capability.Completion{}, fmt.Errorf("%w: no scripted reply for %q", capability.ErrAllModelsExhausted, cfg.Purpose)
	}
	r := queue[0]
	if len(queue) > 1 {
		g.replies[cfg.Purpose] = queue[1:]
	}
	if r.Err != nil {
		return capability.Completion{}, r.Err
	}
	model := cfg.Model
	if model == "" {
		model = string(cfg.Tier) + "-model"
	}
	return capability.Completion{Text: r.Text, Model: model, TokensIn: r.TokensIn, TokensOut: r.TokensOut}, nil
}

// Calls returns the recorded calls for purpose, or all calls when purpose is empty.
func (g *Gateway) Calls(purpose string) []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Call
	for _, c := range g.calls {
		if purpose == "" || c.Config.Purpose == purpose {
			out = append(out, c)
		}
	}
	return out
}

// Source serves documents from memory and counts fetches.
type Source struct {
	mu      sync.Mutex
	docs    map[string][]byte
	errs    map[string]error
	fetches map[capability.ContentKind]int
}

// NewSource creates an empty source.
func NewSource() *Source {
	return &Source{
		docs:    make(map[string][]byte),
		errs:    make(map[string]error),
		fetches: make(map[capability.ContentKind]int),
	}
}

func key(kind capability.ContentKind, id string) string {
	return string(kind) + "/" + id
}

// Put stores a document.
func (s *Source) Put(kind capability.ContentKind, id string, data []byte) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key(kind, id)] = data
	return s
}

// FailWith makes fetches of (kind, id) fail.
func (s *Source) FailWith(kind capability.ContentKind, id string, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[key(kind, id)] = err
	return s
}

// Fetch implements capability.ContextSource.
func (s *Source) Fetch(_ context.Context, kind capability.ContentKind, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[kind]++
	if err, ok := s.errs[key(kind, id)]; ok {
		return nil, err
	}
	data, ok := s.docs[key(kind, id)]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, capability.ErrNotFound)
	}
	return data, nil
}

// Fetches returns how many times kind was fetched.
func (s *Source) Fetches(kind capability.ContentKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[kind]
}

// Retriever returns fixed chunks and records queries.
type Retriever struct {
	Chunks []capability.RankedChunk
	Err    error

	mu      sync.Mutex
	queries []string
}

// Query implements capability.Retriever.
func (r *Retriever) Query(_ context.Context, text string) ([]capability.RankedChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, text)
	return r.Chunks, r.Err
}

// Queries returns the recorded queries.
func (r *Retriever) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}
