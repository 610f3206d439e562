// Package extractor implements structured field extraction.
//
//	fetch_document -> extract -> validate -> {output | error_output}
//
// Extraction runs on the cheap model first. When its answer is not usable
// JSON the same node retries once on the capable model.
package extractor

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/route"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
)

// Node names.
const (
	NodeFetchDocument = "fetch_document"
	NodeExtract       = "extract"
	NodeValidate      = "validate"
	NodeOutput        = "output"
	NodeErrorOutput   = "error_output"
)

const extractPrompt = `Extract these fields from the document: ${fields}.
Use null for fields the document does not contain.
Document:
${document}
Answer with a single JSON object keyed by field name.`

// Input is the run input: inline text or a document to fetch.
type Input struct {
	Text       string   `json:"text,omitempty"`
	DocumentID string   `json:"document_id,omitempty"`
	Fields     []string `json:"fields,omitempty"`
}

// Output is the final result.
type Output struct {
	DocumentID string         `json:"document_id,omitempty"`
	Fields     map[string]any `json:"fields"`
	Escalated  bool           `json:"escalated"`
}

// State is the extractor workflow state.
type State struct {
	state.Base

	DocumentID string         `json:"document_id,omitempty"`
	Document   string         `json:"document"`
	Fields     []string       `json:"fields"`
	Extracted  map[string]any `json:"extracted,omitempty"`
	Escalated  bool           `json:"escalated"`
}

// WithNodeFailure implements agentgraph.Failable.
func (s State) WithNodeFailure(node string, err error) State {
	s.Fail(node, err)
	return s
}

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
		Type:  state.Extractor,
		Agent: cfg,
		Graph: n.graph,
		NewState: func(base state.Base) (State, error) {
			return newState(base, cfg.RequiredFields)
		},
	}), nil
}

// Factory adapts New to workflow.Factory.
func Factory(cfg capability.AgentConfig, caps capability.Set) (workflow.Builder, error) {
	return New(cfg, caps)
}

func newState(base state.Base, required []string) (State, error) {
	in, err := state.DecodeInput[Input](base)
	if err != nil {
		return State{}, err
	}
	if strings.TrimSpace(in.Text) == "" && in.DocumentID == "" {
		return State{}, agerrors.Validation("text", "text or document_id is required")
	}
	fields := slices.Clone(required)
	for _, f := range in.Fields {
		if !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return State{}, agerrors.Validation("fields", "no fields to extract")
	}
	return State{Base: base, DocumentID: in.DocumentID, Document: in.Text, Fields: fields}, nil
}

func (n *nodes) graph() *agentgraph.Graph[State] {
	return agentgraph.NewGraph[State]().
		Named("extractor").
		AddNode(NodeFetchDocument, n.fetchDocument).
		AddNode(NodeExtract, n.extract).
		AddNode(NodeValidate, validate).
		AddNode(NodeOutput, output).
		AddNode(NodeErrorOutput, errorOutput).
		AddConditionalEdge(NodeFetchDocument, route.Then[State](NodeExtract, NodeErrorOutput)).
		AddConditionalEdge(NodeExtract, route.Then[State](NodeValidate, NodeErrorOutput)).
		AddConditionalEdge(NodeValidate, route.Then[State](NodeOutput, NodeErrorOutput)).
		AddEdge(NodeOutput, agentgraph.END).
		AddEdge(NodeErrorOutput, agentgraph.END).
		SetEntry(NodeFetchDocument)
}

func (n *nodes) fetchDocument(ctx agentgraph.Context, s State) (State, error) {
	if s.DocumentID != "" {
		if doc := workflow.FetchOptional(ctx, n.caps.Context, capability.Document, s.DocumentID); len(doc) > 0 {
			s.Document = string(doc)
		}
	}
	if strings.TrimSpace(s.Document) == "" {
		return s, agerrors.Validation("document_id", "document %q is unavailable and no text was given", s.DocumentID)
	}
	return s, s.Record(NodeFetchDocument, map[string]int{"length": len(s.Document)})
}

func (n *nodes) extract(ctx agentgraph.Context, s State) (State, error) {
	user, err := n.prompts.Render(NodeExtract, extractPrompt, workflow.Vars(s.Base, map[string]any{
		"fields":   strings.Join(s.Fields, ", "),
		"document": s.Document,
	}))
	if err != nil {
		return s, err
	}
	prompt := capability.Prompt{System: n.prompts.System(""), User: user}

	fields, err := workflow.CompleteJSON[map[string]any](ctx, n.caps.LLM, &s.Base, prompt, n.cfg.Call(capability.Cheap, NodeExtract))
	if err != nil && agerrors.Categorize(err) == agerrors.CategoryEscalatable {
		ctx.Logger().Info("escalating extraction to the capable model", "error", err)
		s.Escalated = true
		fields, err = workflow.CompleteJSON[map[string]any](ctx, n.caps.LLM, &s.Base, prompt, n.cfg.Call(capability.Capable, NodeExtract))
	}
	if err != nil {
		return s, err
	}
	s.Extracted = fields
	return s, s.Record(NodeExtract, fields)
}

// validate checks that every requested field was extracted.
func validate(ctx agentgraph.Context, s State) (State, error) {
	var missing []string
	for _, f := range s.Fields {
		if empty(s.Extracted[f]) {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return s, nil
	}
	errs := make([]error, 0, len(missing))
	for _, f := range missing {
		errs = append(errs, agerrors.Validation(f, "missing from the extraction"))
	}
	return s, fmt.Errorf("extraction incomplete (%s): %w", strings.Join(missing, ", "), errors.Join(errs...))
}

func empty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

func output(ctx agentgraph.Context, s State) (State, error) {
	return s, s.SetOutput(Output{DocumentID: s.DocumentID, Fields: s.Extracted, Escalated: s.Escalated})
}

func errorOutput(ctx agentgraph.Context, s State) (State, error) {
	return s, workflow.ErrorOutput(ctx, &s.Base)
}
