package explorer

import (
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/saga"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// Input is the run input.
type Input struct {
	Query string `json:"query"`
	// DocumentID optionally names a document to explore against.
	DocumentID string `json:"document_id,omitempty"`
}

// Triage is the cheap model's first look.
type Triage struct {
	// Branch is the analyzer the model thinks fits best.
	Branch     string  `json:"branch"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

// Finding is what one analyzer branch answers.
type Finding struct {
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Mode records how the analyzers were run.
type Mode string

const (
	ModeTargeted Mode = "targeted"
	ModeSaga     Mode = "saga"
)

// Output is the final result.
type Output struct {
	Query     string        `json:"query"`
	Mode      Mode          `json:"mode"`
	Degraded  bool          `json:"degraded"`
	Primary   *saga.Result  `json:"primary"`
	Secondary []saga.Result `json:"secondary"`
	Succeeded []string      `json:"succeeded"`
	Failed    []string      `json:"failed"`
	TimedOut  []string      `json:"timed_out"`
	Message   string        `json:"message,omitempty"`
}

// State is the explorer workflow state.
type State struct {
	state.Base

	Query      string `json:"query"`
	DocumentID string `json:"document_id,omitempty"`
	Document   string `json:"document,omitempty"`

	Triage        *Triage           `json:"triage_result,omitempty"`
	Mode          Mode              `json:"mode,omitempty"`
	BranchResults []saga.Result     `json:"branch_results,omitempty"`
	Aggregation   *saga.Aggregation `json:"aggregation,omitempty"`
}

// WithNodeFailure implements agentgraph.Failable.
func (s State) WithNodeFailure(node string, err error) State {
	s.Fail(node, err)
	return s
}
