// Package tieredvision implements the two-tier image analysis workflow.
//
//	preprocess -> screen -> {output | diagnose -> output}
//
// A cheap model screens the image first. Confident healthy or obvious-issue
// verdicts finish without the expensive model; everything else, and every
// uncertain verdict, escalates to a single Tier 2 diagnosis.
package tieredvision

import (
	"errors"
	"fmt"
	"net/http"
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
	NodePreprocess  = "preprocess"
	NodeScreen      = "screen"
	NodeDiagnose    = "diagnose"
	NodeOutput      = "output"
	NodeErrorOutput = "error_output"
)

const screenPrompt = `Screen this plant image (document ${doc_id}).
Context: ${notes}
Classify it as "healthy", "obvious_issue" or "uncertain" and answer with JSON:
{"classification": "...", "confidence": 0.0-1.0, "findings": ["..."]}`

const diagnosePrompt = `Diagnose this plant image (document ${doc_id}).
Context: ${notes}
A first screening said: ${screen}
Reference knowledge:
${knowledge}
Answer with JSON:
{"primary_issue": "...", "confidence": 0.0-1.0, "findings": ["..."], "recommendations": ["..."], "severity": "low|medium|high"}`

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
	if caps.Context == nil {
		return nil, errors.New("tiered_vision: a context source is required")
	}
	cfg = cfg.WithDefaults()
	n := &nodes{cfg: cfg, caps: caps, prompts: workflow.NewPrompts(cfg)}
	return workflow.New(workflow.Definition[State]{
		Type:     state.TieredVision,
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
	if strings.TrimSpace(in.DocID) == "" {
		return State{}, agerrors.Validation("doc_id", "is required")
	}
	return State{Base: base, DocID: in.DocID, HasThumbnail: in.HasThumbnail, Notes: in.Notes}, nil
}

func (n *nodes) graph() *agentgraph.Graph[State] {
	return agentgraph.NewGraph[State]().
		Named("tiered_vision").
		AddNode(NodePreprocess, n.preprocess).
		AddNode(NodeScreen, n.screen).
		AddNode(NodeDiagnose, n.diagnose).
		AddNode(NodeOutput, n.output).
		AddNode(NodeErrorOutput, errorOutput).
		AddConditionalEdge(NodePreprocess, route.Then[State](NodeScreen, NodeErrorOutput)).
		AddConditionalEdge(NodeScreen, Routing(n.cfg.Thresholds).Router()).
		AddConditionalEdge(NodeDiagnose, route.Then[State](NodeOutput, NodeErrorOutput)).
		AddEdge(NodeOutput, agentgraph.END).
		AddEdge(NodeErrorOutput, agentgraph.END).
		SetEntry(NodePreprocess)
}

// Routing is the post-screen decision table. Rules are evaluated in order
// and thresholds are inclusive.
func Routing(th capability.Thresholds) route.Table[State] {
	th = th.WithDefaults()
	healthySkip, obviousSkip := *th.HealthySkip, *th.ObviousIssueSkip
	return route.New(NodeDiagnose,
		route.OnFailure[State](NodeErrorOutput),
		route.When("healthy_confident", func(s State) bool {
			return s.Tier1 != nil && s.Tier1.Classification == Healthy && route.AtLeast(s.Tier1.Confidence, healthySkip)
		}, NodeOutput),
		route.When("obvious_issue_confident", func(s State) bool {
			return s.Tier1 != nil && s.Tier1.Classification == ObviousIssue && route.AtLeast(s.Tier1.Confidence, obviousSkip)
		}, NodeOutput),
		route.When("uncertain", func(s State) bool {
			return s.Tier1 == nil || s.Tier1.Classification == Uncertain
		}, NodeDiagnose),
	)
}

func (n *nodes) preprocess(ctx agentgraph.Context, s State) (State, error) {
	s, err := n.loadScreeningImage(ctx, s)
	if err != nil {
		return s, err
	}
	if len(s.Thumbnail) > 0 {
		return s, s.Record(NodePreprocess, map[string]any{"image": "thumbnail", "bytes": len(s.Thumbnail)})
	}
	return s, s.Record(NodePreprocess, map[string]any{"image": "original", "bytes": len(s.Original)})
}

// loadScreeningImage fetches the thumbnail, falling back to the original.
func (n *nodes) loadScreeningImage(ctx agentgraph.Context, s State) (State, error) {
	if s.HasThumbnail {
		s.Thumbnail = workflow.FetchOptional(ctx, n.caps.Context, capability.Thumbnail, s.DocID)
		if len(s.Thumbnail) > 0 {
			return s, nil
		}
		ctx.Logger().Warn("thumbnail unavailable, screening the original", "doc_id", s.DocID)
	}

	original, err := n.fetchOriginal(ctx, s.DocID)
	if err != nil {
		return s, err
	}
	s.Original = original
	return s, nil
}

func (n *nodes) fetchOriginal(ctx agentgraph.Context, docID string) ([]byte, error) {
	data, err := n.caps.Context.Fetch(ctx, capability.Original, docID)
	if err != nil {
		return nil, fmt.Errorf("fetch original %s: %w", docID, err)
	}
	return data, nil
}

func (n *nodes) screen(ctx agentgraph.Context, s State) (State, error) {
	if len(s.ScreeningImage()) == 0 {
		var err error
		if s, err = n.loadScreeningImage(ctx, s); err != nil {
			return s, err
		}
	}
	user, err := n.prompts.Render(NodeScreen, screenPrompt, workflow.Vars(s.Base, map[string]any{
		"doc_id": s.DocID,
		"notes":  s.Notes,
	}))
	if err != nil {
		return s, err
	}
	prompt := capability.Prompt{
		System:      n.prompts.System(""),
		User:        user,
		Attachments: []capability.Attachment{attachment("screen", s.ScreeningImage())},
	}

	c, err := workflow.Complete(ctx, n.caps.LLM, &s.Base, prompt, n.cfg.Call(capability.Cheap, NodeScreen))
	if err != nil {
		return s, err
	}
	s.Metadata.Usage.Tier1Executed = true
	res, err := capability.DecodeJSON[ScreenResult](c.Text)
	if err != nil {
		return s, fmt.Errorf("%s: %w", NodeScreen, err)
	}
	if err := res.validate(); err != nil {
		return s, err
	}
	s.Tier1 = &res
	ctx.Logger().Info("screened", "classification", string(res.Classification), "confidence", res.Confidence)
	return s, s.Record(NodeScreen, res)
}

func (r ScreenResult) validate() error {
	switch r.Classification {
	case Healthy, ObviousIssue, Uncertain:
	default:
		return agerrors.Validation("classification", "unexpected value %q", r.Classification)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return agerrors.Validation("confidence", "must be within [0, 1], got %v", r.Confidence)
	}
	return nil
}

func (n *nodes) diagnose(ctx agentgraph.Context, s State) (State, error) {
	if s.Metadata.Usage.Tier2Executed {
		ctx.Logger().Warn("tier 2 already executed, not running it again")
		return s, nil
	}
	if len(s.Original) == 0 {
		original, err := n.fetchOriginal(ctx, s.DocID)
		if err != nil {
			return s, err
		}
		s.Original = original
	}

	var findings []string
	if s.Tier1 != nil {
		findings = s.Tier1.Findings
	}
	chunks := workflow.RetrieveOptional(ctx, n.caps.Retriever, strings.Join(append([]string{s.Notes}, findings...), " "))
	user, err := n.prompts.Render(NodeDiagnose, diagnosePrompt, workflow.Vars(s.Base, map[string]any{
		"doc_id":    s.DocID,
		"notes":     s.Notes,
		"screen":    s.Tier1,
		"knowledge": workflow.Knowledge(chunks),
	}))
	if err != nil {
		return s, err
	}
	prompt := capability.Prompt{
		System:      n.prompts.System(""),
		User:        user,
		Attachments: []capability.Attachment{attachment("original", s.Original)},
	}

	c, err := workflow.Complete(ctx, n.caps.LLM, &s.Base, prompt, n.cfg.Call(capability.Capable, NodeDiagnose))
	if err != nil {
		return s, err
	}
	s.Metadata.Usage.Tier2Executed = true
	res, err := capability.DecodeJSON[DiagnoseResult](c.Text)
	if err != nil {
		return s, fmt.Errorf("%s: %w", NodeDiagnose, err)
	}
	s.Tier2 = &res
	return s, s.Record(NodeDiagnose, res)
}

func (n *nodes) output(ctx agentgraph.Context, s State) (State, error) {
	u := s.Metadata.Usage
	out := Output{
		DocID:         s.DocID,
		Tier1Executed: u.Tier1Executed,
		Tier2Executed: u.Tier2Executed,
		TokensUsed:    u.Tokens(),
	}
	if s.Tier1 != nil {
		out.Classification = s.Tier1.Classification
		out.Confidence = s.Tier1.Confidence
		out.Findings = s.Tier1.Findings
	}

	switch {
	case s.Tier2 != nil:
		out.PrimaryIssue = s.Tier2.PrimaryIssue
		out.Confidence = s.Tier2.Confidence
		out.Findings = s.Tier2.Findings
		out.Recommendations = s.Tier2.Recommendations
		out.Severity = s.Tier2.Severity
		out.NoIssue = s.Tier2.PrimaryIssue == "" || strings.EqualFold(s.Tier2.PrimaryIssue, "none")
	case out.Classification == Healthy:
		out.NoIssue = true
	case out.Classification == ObviousIssue && len(out.Findings) > 0:
		// The screen result stands in for the diagnosis.
		out.PrimaryIssue = out.Findings[0]
	}
	return s, s.SetOutput(out)
}

func errorOutput(ctx agentgraph.Context, s State) (State, error) {
	return s, workflow.ErrorOutput(ctx, &s.Base)
}

func attachment(name string, data []byte) capability.Attachment {
	return capability.Attachment{Name: name, MediaType: http.DetectContentType(data), Data: data}
}
