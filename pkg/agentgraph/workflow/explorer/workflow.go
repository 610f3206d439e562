// Package explorer implements the exploratory analysis workflow.
//
//	triage -> {targeted | saga} -> aggregate -> {output | degraded_output}
//
// A cheap triage call decides whether one analyzer is clearly the right
// one. If so only that analyzer runs; otherwise every analyzer runs
// concurrently under the saga coordinator's shared deadline and the
// results are ranked by confidence.
package explorer

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/route"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/saga"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
)

// Node names.
const (
	NodeTriage         = "triage"
	NodeTargeted       = "targeted"
	NodeSaga           = "saga"
	NodeAggregate      = "aggregate"
	NodeOutput         = "output"
	NodeDegradedOutput = "degraded_output"
	NodeErrorOutput    = "error_output"
)

// DefaultBranches are the analyzers used when the agent configures none.
var DefaultBranches = []string{"evidence", "causes", "alternatives"}

// BranchPurpose is the CallConfig.Purpose of an analyzer branch.
func BranchPurpose(branch string) string {
	return "branch." + branch
}

const triagePrompt = `Question: ${input.query}
${document}
Available analyzers: ${branches}
Pick the single analyzer most likely to answer well and answer with JSON:
{"branch": "...", "confidence": 0.0-1.0, "summary": "..."}`

const branchPrompt = `You are the "${branch}" analyzer.
Question: ${input.query}
${document}
Answer with JSON: {"answer": "...", "confidence": 0.0-1.0, "evidence": ["..."]}`

// Option configures the explorer.
type Option func(*nodes)

// WithSpanManager traces saga branches.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(n *nodes) { n.spans = sm }
}

// WithMaxConcurrency bounds concurrently running branches.
func WithMaxConcurrency(max int64) Option {
	return func(n *nodes) { n.maxConcurrency = max }
}

type nodes struct {
	cfg      capability.AgentConfig
	caps     capability.Set
	prompts  workflow.Prompts
	branches []string

	spans          observability.SpanManager
	maxConcurrency int64
}

// New creates the builder for an agent.
func New(cfg capability.AgentConfig, caps capability.Set, opts ...Option) (*workflow.GraphBuilder[State], error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	n := &nodes{cfg: cfg, caps: caps, prompts: workflow.NewPrompts(cfg), branches: cfg.Branches}
	if len(n.branches) == 0 {
		n.branches = DefaultBranches
	}
	for _, opt := range opts {
		opt(n)
	}
	return workflow.New(workflow.Definition[State]{
		Type:     state.Explorer,
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
	if strings.TrimSpace(in.Query) == "" {
		return State{}, agerrors.Validation("query", "is required")
	}
	return State{Base: base, Query: in.Query, DocumentID: in.DocumentID}, nil
}

func (n *nodes) graph() *agentgraph.Graph[State] {
	return agentgraph.NewGraph[State]().
		Named("explorer").
		AddNode(NodeTriage, n.triage).
		AddNode(NodeTargeted, n.targeted).
		AddNode(NodeSaga, n.runSaga).
		AddNode(NodeAggregate, n.aggregate).
		AddNode(NodeOutput, output).
		AddNode(NodeDegradedOutput, degradedOutput).
		AddNode(NodeErrorOutput, errorOutput).
		AddConditionalEdge(NodeTriage, TriageRouting(*n.cfg.Thresholds.Triage, n.branches).Router()).
		AddConditionalEdge(NodeTargeted, route.Then[State](NodeAggregate, NodeErrorOutput)).
		AddConditionalEdge(NodeSaga, route.Then[State](NodeAggregate, NodeErrorOutput)).
		AddConditionalEdge(NodeAggregate, AggregateRouting().Router()).
		AddEdge(NodeOutput, agentgraph.END).
		AddEdge(NodeDegradedOutput, agentgraph.END).
		AddEdge(NodeErrorOutput, agentgraph.END).
		SetEntry(NodeTriage)
}

// TriageRouting sends confident triage answers naming a known analyzer to
// the targeted path. The threshold is inclusive.
func TriageRouting(threshold float64, branches []string) route.Table[State] {
	return route.New(NodeSaga,
		route.OnFailure[State](NodeErrorOutput),
		route.When("confident", func(s State) bool {
			return s.Triage != nil &&
				route.AtLeast(s.Triage.Confidence, threshold) &&
				slices.Contains(branches, s.Triage.Branch)
		}, NodeTargeted),
	)
}

// AggregateRouting sends runs where no analyzer succeeded to the degraded
// output.
func AggregateRouting() route.Table[State] {
	return route.New(NodeOutput,
		route.OnFailure[State](NodeErrorOutput),
		route.When("degraded", func(s State) bool {
			return s.Aggregation == nil || s.Aggregation.Degraded()
		}, NodeDegradedOutput),
	)
}

func (n *nodes) vars(s State, extra map[string]any) map[string]any {
	doc := ""
	if s.Document != "" {
		doc = "Document:\n" + s.Document
	}
	extra["document"] = doc
	return workflow.Vars(s.Base, extra)
}

func (n *nodes) triage(ctx agentgraph.Context, s State) (State, error) {
	if s.DocumentID != "" {
		s.Document = string(workflow.FetchOptional(ctx, n.caps.Context, capability.Document, s.DocumentID))
	}

	user, err := n.prompts.Render(NodeTriage, triagePrompt, n.vars(s, map[string]any{
		"branches": strings.Join(n.branches, ", "),
	}))
	if err != nil {
		return s, err
	}
	t, err := workflow.CompleteJSON[Triage](ctx, n.caps.LLM, &s.Base,
		capability.Prompt{System: n.prompts.System(""), User: user},
		n.cfg.Call(capability.Cheap, NodeTriage))
	if err != nil {
		return s, err
	}
	s.Triage = &t
	ctx.Logger().Info("triaged", "branch", t.Branch, "confidence", t.Confidence)
	return s, s.Record(NodeTriage, t)
}

// usage collects branch usage. Branches run concurrently and stragglers
// may report after the saga returned, so it is guarded and copied out.
type usage struct {
	mu sync.Mutex
	u  state.Usage
}

func (u *usage) add(c capability.Completion) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.u.Add(c.Model, c.TokensIn, c.TokensOut)
}

func (u *usage) snapshot() state.Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	snap := u.u
	snap.ModelsUsed = slices.Clone(u.u.ModelsUsed)
	return snap
}

func (n *nodes) branch(s State, name string, acc *usage) saga.Branch {
	return saga.Branch{
		Name: name,
		Run: func(ctx context.Context) (saga.Outcome, error) {
			user, err := n.prompts.Render(name, branchPrompt, n.vars(s, map[string]any{"branch": name}))
			if err != nil {
				return saga.Outcome{}, err
			}
			call := n.cfg.Call(capability.Capable, BranchPurpose(name))
			c, err := n.caps.LLM.Complete(ctx, capability.Prompt{System: n.prompts.System(""), User: user}, call)
			if err != nil {
				return saga.Outcome{}, err
			}
			acc.add(c)
			f, err := capability.DecodeJSON[Finding](c.Text)
			if err != nil {
				return saga.Outcome{}, err
			}
			return saga.Outcome{Payload: f, Confidence: f.Confidence}, nil
		},
	}
}

func (n *nodes) coordinator(ctx agentgraph.Context) *saga.Coordinator {
	return &saga.Coordinator{
		Timeout:        n.cfg.SagaTimeout,
		MaxConcurrency: n.maxConcurrency,
		Logger:         ctx.Logger(),
		Spans:          n.spans,
	}
}

func (n *nodes) targeted(ctx agentgraph.Context, s State) (State, error) {
	acc := &usage{}
	s.Mode = ModeTargeted
	s.BranchResults = n.coordinator(ctx).Run(ctx, []saga.Branch{n.branch(s, s.Triage.Branch, acc)})
	mergeUsage(&s.Base, acc.snapshot())
	return s, s.Record(NodeTargeted, s.BranchResults)
}

func (n *nodes) runSaga(ctx agentgraph.Context, s State) (State, error) {
	acc := &usage{}
	branches := make([]saga.Branch, 0, len(n.branches))
	for _, name := range n.branches {
		branches = append(branches, n.branch(s, name, acc))
	}
	s.Mode = ModeSaga
	s.BranchResults = n.coordinator(ctx).Run(ctx, branches)
	mergeUsage(&s.Base, acc.snapshot())
	return s, s.Record(NodeSaga, s.BranchResults)
}

func mergeUsage(b *state.Base, u state.Usage) {
	total := b.Metadata.Usage
	total.ModelsUsed = slices.Clone(total.ModelsUsed)
	total.TokensIn += u.TokensIn
	total.TokensOut += u.TokensOut
	total.LLMCalls += u.LLMCalls
	for _, m := range u.ModelsUsed {
		if !slices.Contains(total.ModelsUsed, m) {
			total.ModelsUsed = append(total.ModelsUsed, m)
		}
	}
	b.Metadata.Usage = total
}

func (n *nodes) aggregate(ctx agentgraph.Context, s State) (State, error) {
	agg := saga.Aggregate(s.BranchResults, *n.cfg.Thresholds.Secondary)
	s.Aggregation = &agg
	ctx.Logger().Info("aggregated",
		"succeeded", len(agg.Succeeded),
		"failed", len(agg.Failed),
		"timed_out", len(agg.TimedOut),
		"degraded", agg.Degraded(),
	)
	return s, s.Record(NodeAggregate, agg)
}

func outputOf(s State) Output {
	out := Output{Query: s.Query, Mode: s.Mode, Secondary: []saga.Result{}}
	if a := s.Aggregation; a != nil {
		out.Primary = a.Primary
		out.Secondary = a.Secondary
		out.Succeeded = a.Succeeded
		out.Failed = a.Failed
		out.TimedOut = a.TimedOut
	}
	return out
}

func output(ctx agentgraph.Context, s State) (State, error) {
	return s, s.SetOutput(outputOf(s))
}

func degradedOutput(ctx agentgraph.Context, s State) (State, error) {
	out := outputOf(s)
	out.Degraded = true
	out.Message = fmt.Sprintf("no analyzer succeeded (%d failed, %d timed out)", len(out.Failed), len(out.TimedOut))
	ctx.Logger().Warn("explorer produced a degraded result", "failed", out.Failed, "timed_out", out.TimedOut)
	return s, s.SetOutput(out)
}

func errorOutput(ctx agentgraph.Context, s State) (State, error) {
	return s, workflow.ErrorOutput(ctx, &s.Base)
}
