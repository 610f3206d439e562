// Package generator implements the report generation workflow.
//
//	fetch_analyses -> prioritize -> generate_report -> translate_message
//	    -> check_quality -> {output | simplify_message -> check_quality}
//
// The quality check may send the message back to be simplified exactly
// once. A second failing check ends the run with quality_passed=false.
package generator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/route"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
)

// Node names.
const (
	NodeFetchAnalyses    = "fetch_analyses"
	NodePrioritize       = "prioritize"
	NodeGenerateReport   = "generate_report"
	NodeTranslateMessage = "translate_message"
	NodeCheckQuality     = "check_quality"
	NodeSimplifyMessage  = "simplify_message"
	NodeOutput           = "output"
	NodeErrorOutput      = "error_output"
)

// MaxSimplifyAttempts bounds the quality loop.
const MaxSimplifyAttempts = 1

// maxIterations caps the graph loop well above the longest legal path.
const maxIterations = 16

const prioritizePrompt = `Rank the issues found in these analyses by urgency.
${analyses}
Answer with JSON: {"priorities": [{"title": "...", "priority": 1, "reason": "..."}]}`

const reportPrompt = `Write a report for ${audience} covering these priorities:
${priorities}
Source analyses:
${analyses}
Answer with JSON: {"title": "...", "summary": "...", "sections": [{"heading": "...", "body": "..."}]}`

const translatePrompt = `Turn this report into one short message in language "${language}",
at most ${max_length} characters:
${report}
Answer with JSON: {"text": "..."}`

const simplifyPrompt = `This message failed review (${issues}).
Rewrite it in language "${language}", simpler and at most ${max_length} characters:
${message}
Answer with JSON: {"text": "..."}`

// QualityChecker judges a message.
type QualityChecker func(ctx context.Context, message string, maxLength int) (Quality, error)

// CheckLength is the default checker: the message must be non-empty, within
// maxLength runes and free of unrendered placeholders.
func CheckLength(_ context.Context, message string, maxLength int) (Quality, error) {
	var issues []string
	if strings.TrimSpace(message) == "" {
		issues = append(issues, "message is empty")
	}
	if n := utf8.RuneCountInString(message); n > maxLength {
		issues = append(issues, fmt.Sprintf("message is %d characters, limit is %d", n, maxLength))
	}
	if strings.Contains(message, "${") {
		issues = append(issues, "message contains an unrendered placeholder")
	}
	return Quality{Passed: len(issues) == 0, Issues: issues}, nil
}

// Option configures the generator.
type Option func(*nodes)

// WithQualityChecker replaces CheckLength.
func WithQualityChecker(c QualityChecker) Option {
	return func(n *nodes) { n.check = c }
}

type nodes struct {
	cfg     capability.AgentConfig
	caps    capability.Set
	prompts workflow.Prompts
	check   QualityChecker
}

// New creates the builder for an agent.
func New(cfg capability.AgentConfig, caps capability.Set, opts ...Option) (*workflow.GraphBuilder[State], error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	n := &nodes{cfg: cfg, caps: caps, prompts: workflow.NewPrompts(cfg), check: CheckLength}
	for _, opt := range opts {
		opt(n)
	}
	return workflow.New(workflow.Definition[State]{
		Type:          state.Generator,
		Agent:         cfg,
		Graph:         n.graph,
		NewState:      newState,
		MaxIterations: maxIterations,
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
	if len(in.AnalysisIDs) == 0 && len(in.Analyses) == 0 {
		return State{}, agerrors.Validation("analysis_ids", "at least one analysis is required")
	}
	s := State{Base: base, Language: in.Language, Audience: in.Audience, Analyses: in.Analyses}
	if s.Language == "" {
		s.Language = "en"
	}
	if s.Audience == "" {
		s.Audience = "a non-specialist reader"
	}
	return s, nil
}

func (n *nodes) graph() *agentgraph.Graph[State] {
	return agentgraph.NewGraph[State]().
		Named("generator").
		AddNode(NodeFetchAnalyses, n.fetchAnalyses).
		AddNode(NodePrioritize, n.prioritize).
		AddNode(NodeGenerateReport, n.generateReport).
		AddNode(NodeTranslateMessage, n.translateMessage).
		AddNode(NodeCheckQuality, n.checkQuality).
		AddNode(NodeSimplifyMessage, n.simplifyMessage).
		AddNode(NodeOutput, output).
		AddNode(NodeErrorOutput, errorOutput).
		AddConditionalEdge(NodeFetchAnalyses, route.Then[State](NodePrioritize, NodeErrorOutput)).
		AddConditionalEdge(NodePrioritize, route.Then[State](NodeGenerateReport, NodeErrorOutput)).
		AddConditionalEdge(NodeGenerateReport, route.Then[State](NodeTranslateMessage, NodeErrorOutput)).
		AddConditionalEdge(NodeTranslateMessage, route.Then[State](NodeCheckQuality, NodeErrorOutput)).
		AddConditionalEdge(NodeCheckQuality, QualityRouting().Router()).
		AddConditionalEdge(NodeSimplifyMessage, route.Then[State](NodeCheckQuality, NodeErrorOutput)).
		AddEdge(NodeOutput, agentgraph.END).
		AddEdge(NodeErrorOutput, agentgraph.END).
		SetEntry(NodeFetchAnalyses)
}

// QualityRouting is the loop's exit table: a failing check is simplified
// while attempts remain, then accepted as is.
func QualityRouting() route.Table[State] {
	return route.New(NodeOutput,
		route.OnFailure[State](NodeErrorOutput),
		route.When("passed", func(s State) bool {
			return s.Quality != nil && s.Quality.Passed
		}, NodeOutput),
		route.When("simplify", func(s State) bool {
			return s.SimplifyAttempts < MaxSimplifyAttempts
		}, NodeSimplifyMessage),
	)
}

func (n *nodes) fetchAnalyses(ctx agentgraph.Context, s State) (State, error) {
	in, err := state.DecodeInput[Input](s.Base)
	if err != nil {
		return s, err
	}
	analyses := slices.Clone(s.Analyses)
	for _, id := range in.AnalysisIDs {
		if doc := workflow.FetchOptional(ctx, n.caps.Context, capability.Document, id); len(doc) > 0 {
			analyses = append(analyses, string(doc))
		}
	}
	if len(analyses) == 0 {
		return s, agerrors.Validation("analysis_ids", "none of the %d analyses could be fetched", len(in.AnalysisIDs))
	}
	s.Analyses = analyses
	return s, s.Record(NodeFetchAnalyses, map[string]int{"analyses": len(analyses)})
}

// ask renders the node's prompt, calls the model and decodes its JSON answer.
func ask[T any](ctx agentgraph.Context, n *nodes, s *State, node string, tier capability.Tier, builtin string, vars map[string]any) (T, error) {
	user, err := n.prompts.Render(node, builtin, workflow.Vars(s.Base, vars))
	if err != nil {
		var zero T
		return zero, err
	}
	prompt := capability.Prompt{System: n.prompts.System(""), User: user}
	return workflow.CompleteJSON[T](ctx, n.caps.LLM, &s.Base, prompt, n.cfg.Call(tier, node))
}

type priorities struct {
	Priorities []Priority `json:"priorities"`
}

func (n *nodes) prioritize(ctx agentgraph.Context, s State) (State, error) {
	res, err := ask[priorities](ctx, n, &s, NodePrioritize, capability.Cheap, prioritizePrompt, map[string]any{
		"analyses": strings.Join(s.Analyses, "\n---\n"),
	})
	if err != nil {
		return s, err
	}
	slices.SortStableFunc(res.Priorities, func(a, b Priority) int { return a.Priority - b.Priority })
	s.Priorities = res.Priorities
	return s, s.Record(NodePrioritize, res.Priorities)
}

func (n *nodes) generateReport(ctx agentgraph.Context, s State) (State, error) {
	r, err := ask[Report](ctx, n, &s, NodeGenerateReport, capability.Capable, reportPrompt, map[string]any{
		"audience":   s.Audience,
		"priorities": s.Priorities,
		"analyses":   strings.Join(s.Analyses, "\n---\n"),
	})
	if err != nil {
		return s, err
	}
	if strings.TrimSpace(r.Summary) == "" && len(r.Sections) == 0 {
		return s, agerrors.Validation("report", "model returned an empty report")
	}
	s.Report = &r
	return s, s.Record(NodeGenerateReport, r)
}

func (n *nodes) translateMessage(ctx agentgraph.Context, s State) (State, error) {
	m, err := ask[Message](ctx, n, &s, NodeTranslateMessage, capability.Cheap, translatePrompt, map[string]any{
		"language":   s.Language,
		"max_length": n.cfg.MaxMessageLength,
		"report":     s.Report,
	})
	if err != nil {
		return s, err
	}
	s.Message = m.Text
	return s, s.Record(NodeTranslateMessage, m)
}

func (n *nodes) checkQuality(ctx agentgraph.Context, s State) (State, error) {
	q, err := n.check(ctx, s.Message, n.cfg.MaxMessageLength)
	if err != nil {
		return s, fmt.Errorf("quality check: %w", err)
	}
	s.Quality = &q
	if !q.Passed {
		ctx.Logger().Info("message failed quality check", "issues", q.Issues, "simplify_attempts", s.SimplifyAttempts)
	}
	return s, s.Record(NodeCheckQuality, q)
}

func (n *nodes) simplifyMessage(ctx agentgraph.Context, s State) (State, error) {
	var issues []string
	if s.Quality != nil {
		issues = s.Quality.Issues
	}
	m, err := ask[Message](ctx, n, &s, NodeSimplifyMessage, capability.Cheap, simplifyPrompt, map[string]any{
		"language":   s.Language,
		"max_length": n.cfg.MaxMessageLength,
		"message":    s.Message,
		"issues":     strings.Join(issues, "; "),
	})
	if err != nil {
		return s, err
	}
	s.SimplifyAttempts++
	s.Message = m.Text
	return s, s.Record(NodeSimplifyMessage, m)
}

func output(ctx agentgraph.Context, s State) (State, error) {
	out := Output{
		Message:    s.Message,
		Language:   s.Language,
		Simplified: s.SimplifyAttempts > 0,
	}
	if s.Report != nil {
		out.Report = *s.Report
	}
	if s.Quality != nil {
		out.QualityPassed = s.Quality.Passed
		out.QualityIssues = s.Quality.Issues
	}
	if !out.QualityPassed {
		ctx.Logger().Warn("emitting message that failed the quality check", "issues", out.QualityIssues)
	}
	return s, s.SetOutput(out)
}

func errorOutput(ctx agentgraph.Context, s State) (State, error) {
	return s, workflow.ErrorOutput(ctx, &s.Base)
}
