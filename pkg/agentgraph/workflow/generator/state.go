package generator

import (
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// Input is the run input. Analyses are either fetched by ID or passed inline.
type Input struct {
	AnalysisIDs []string `json:"analysis_ids,omitempty"`
	Analyses    []string `json:"analyses,omitempty"`
	// Language of the final message. Default: "en".
	Language string `json:"language,omitempty"`
	Audience string `json:"audience,omitempty"`
}

// Priority is one ranked item.
type Priority struct {
	Title    string `json:"title"`
	Priority int    `json:"priority"`
	Reason   string `json:"reason,omitempty"`
}

// Section is part of a report.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Report is the long-form result.
type Report struct {
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Sections []Section `json:"sections"`
}

// Message is the short text sent to the end user.
type Message struct {
	Text string `json:"text"`
}

// Quality is the verdict of the quality check.
type Quality struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// Output is the final result.
type Output struct {
	Report        Report   `json:"report"`
	Message       string   `json:"message"`
	Language      string   `json:"language"`
	QualityPassed bool     `json:"quality_passed"`
	QualityIssues []string `json:"quality_issues,omitempty"`
	Simplified    bool     `json:"simplified"`
}

// State is the generator workflow state.
type State struct {
	state.Base

	Language string   `json:"language"`
	Audience string   `json:"audience,omitempty"`
	Analyses []string `json:"analyses"`

	Priorities []Priority `json:"priorities,omitempty"`
	Report     *Report    `json:"report,omitempty"`
	Message    string     `json:"message,omitempty"`
	Quality    *Quality   `json:"quality,omitempty"`
	// SimplifyAttempts counts simplify_message runs; the loop allows one.
	SimplifyAttempts int `json:"simplify_attempts"`
}

// WithNodeFailure implements agentgraph.Failable.
func (s State) WithNodeFailure(node string, err error) State {
	s.Fail(node, err)
	return s
}
