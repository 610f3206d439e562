package tieredvision

import (
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// Classification is the Tier 1 screening verdict.
type Classification string

const (
	Healthy      Classification = "healthy"
	ObviousIssue Classification = "obvious_issue"
	Uncertain    Classification = "uncertain"
)

// Input is the run input.
type Input struct {
	DocID        string `json:"doc_id"`
	HasThumbnail bool   `json:"has_thumbnail"`
	// Notes is free-form context passed to both tiers (crop, location).
	Notes string `json:"notes,omitempty"`
}

// ScreenResult is the Tier 1 answer.
type ScreenResult struct {
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	Findings       []string       `json:"findings"`
}

// DiagnoseResult is the Tier 2 answer.
type DiagnoseResult struct {
	PrimaryIssue    string   `json:"primary_issue"`
	Confidence      float64  `json:"confidence"`
	Findings        []string `json:"findings"`
	Recommendations []string `json:"recommendations"`
	Severity        string   `json:"severity"`
}

// Output is the final result.
type Output struct {
	DocID           string         `json:"doc_id"`
	Classification  Classification `json:"classification"`
	NoIssue         bool           `json:"no_issue"`
	PrimaryIssue    string         `json:"primary_issue,omitempty"`
	Confidence      float64        `json:"confidence"`
	Findings        []string       `json:"findings"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Severity        string         `json:"severity,omitempty"`
	Tier1Executed   bool           `json:"tier1_executed"`
	Tier2Executed   bool           `json:"tier2_executed"`
	TokensUsed      int            `json:"tokens_used"`
}

// State is the tiered-vision workflow state.
type State struct {
	state.Base

	DocID        string `json:"doc_id"`
	HasThumbnail bool   `json:"has_thumbnail"`
	Notes        string `json:"notes,omitempty"`

	// Thumbnail is the screening image when a thumbnail exists.
	Thumbnail []byte `json:"-"`
	// Original is fetched once per run and reused by both tiers. Images
	// stay out of checkpoints; a resumed run fetches them again.
	Original []byte `json:"-"`

	Tier1 *ScreenResult   `json:"tier1_result,omitempty"`
	Tier2 *DiagnoseResult `json:"tier2_result,omitempty"`
}

// WithNodeFailure implements agentgraph.Failable.
func (s State) WithNodeFailure(node string, err error) State {
	s.Fail(node, err)
	return s
}

// ScreeningImage returns the image Tier 1 looks at.
func (s State) ScreeningImage() []byte {
	if s.HasThumbnail && len(s.Thumbnail) > 0 {
		return s.Thumbnail
	}
	return s.Original
}
