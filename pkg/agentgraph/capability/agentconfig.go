package capability

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// Defaults applied by AgentConfig.WithDefaults.
const (
	DefaultTriageThreshold       = 0.7
	DefaultHealthySkipThreshold  = 0.85
	DefaultObviousIssueThreshold = 0.75
	DefaultSecondaryThreshold    = 0.5
	DefaultSagaTimeout           = 30 * time.Second
	DefaultMaxTurns              = 5
	DefaultMaxMessageLength      = 480
	DefaultMaxTokens             = 1024
)

// Models names the model used for each tier.
type Models struct {
	Cheap   string `yaml:"cheap" json:"cheap"`
	Capable string `yaml:"capable" json:"capable"`
}

// Thresholds are the routing confidence thresholds. All are inclusive.
// Nil means unset; an explicit 0 is a valid setting.
type Thresholds struct {
	// Triage: at or above, the explorer skips the saga.
	Triage *float64 `yaml:"triage,omitempty" json:"triage,omitempty"`
	// HealthySkip: a healthy screen at or above skips Tier 2.
	HealthySkip *float64 `yaml:"healthy_skip,omitempty" json:"healthy_skip,omitempty"`
	// ObviousIssueSkip: an obvious-issue screen at or above skips Tier 2.
	ObviousIssueSkip *float64 `yaml:"obvious_issue_skip,omitempty" json:"obvious_issue_skip,omitempty"`
	// Secondary: minimum confidence for secondary saga results.
	Secondary *float64 `yaml:"secondary,omitempty" json:"secondary,omitempty"`
}

// Threshold returns a pointer to v for building Thresholds in code.
func Threshold(v float64) *float64 { return &v }

// WithDefaults fills every unset threshold with its default.
func (t Thresholds) WithDefaults() Thresholds {
	t.Triage = cmp.Or(t.Triage, Threshold(DefaultTriageThreshold))
	t.HealthySkip = cmp.Or(t.HealthySkip, Threshold(DefaultHealthySkipThreshold))
	t.ObviousIssueSkip = cmp.Or(t.ObviousIssueSkip, Threshold(DefaultObviousIssueThreshold))
	t.Secondary = cmp.Or(t.Secondary, Threshold(DefaultSecondaryThreshold))
	return t
}

// AgentConfig specializes one of the generic workflows into an agent.
type AgentConfig struct {
	ID          string `yaml:"id" json:"id"`
	Type        string `yaml:"type" json:"type"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Models      Models            `yaml:"models" json:"models"`
	Prompts     map[string]string `yaml:"prompts" json:"prompts"`
	Thresholds  Thresholds        `yaml:"thresholds" json:"thresholds"`
	MaxTokens   int               `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64           `yaml:"temperature" json:"temperature"`

	// Explorer.
	SagaTimeout time.Duration `yaml:"saga_timeout" json:"saga_timeout"`
	Branches    []string      `yaml:"branches" json:"branches"`

	// Conversational.
	MaxTurns int `yaml:"max_turns" json:"max_turns"`

	// Generator.
	MaxMessageLength int `yaml:"max_message_length" json:"max_message_length"`

	// Extractor.
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`

	Settings map[string]any `yaml:"settings" json:"settings"`
	// SettingsFile is a YAML or JSON file of settings, relative to the
	// agents file. Inline settings override its top-level keys.
	SettingsFile string `yaml:"settings_file,omitempty" json:"settings_file,omitempty"`
}

// WithDefaults fills every unset field with its default.
func (c AgentConfig) WithDefaults() AgentConfig {
	c.Thresholds = c.Thresholds.WithDefaults()
	setDefault(&c.SagaTimeout, DefaultSagaTimeout)
	setDefault(&c.MaxTurns, DefaultMaxTurns)
	setDefault(&c.MaxMessageLength, DefaultMaxMessageLength)
	setDefault(&c.MaxTokens, DefaultMaxTokens)
	c.Prompts = maps.Clone(c.Prompts)
	if c.Prompts == nil {
		c.Prompts = map[string]string{}
	}
	return c
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks the fields every workflow relies on. It does not check
// Type; see WorkflowType.
func (c AgentConfig) Validate() error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, agerrors.Validation("id", "is required"))
	}
	thresholds := []struct {
		name string
		v    *float64
	}{
		{"thresholds.triage", c.Thresholds.Triage},
		{"thresholds.healthy_skip", c.Thresholds.HealthySkip},
		{"thresholds.obvious_issue_skip", c.Thresholds.ObviousIssueSkip},
		{"thresholds.secondary", c.Thresholds.Secondary},
	}
	for _, th := range thresholds {
		if th.v != nil && (*th.v < 0 || *th.v > 1) {
			errs = append(errs, agerrors.Validation(th.name, "must be within [0, 1], got %v", *th.v))
		}
	}
	if c.MaxTurns < 0 {
		errs = append(errs, agerrors.Validation("max_turns", "must not be negative"))
	}
	if c.MaxMessageLength < 0 {
		errs = append(errs, agerrors.Validation("max_message_length", "must not be negative"))
	}
	if c.SagaTimeout < 0 {
		errs = append(errs, agerrors.Validation("saga_timeout", "must not be negative"))
	}
	return errors.Join(errs...)
}

// WorkflowType parses Type.
func (c AgentConfig) WorkflowType() (state.WorkflowType, error) {
	return state.ParseWorkflowType(c.Type)
}

// Config exposes the free-form settings block.
func (c AgentConfig) Config() config.Config {
	return config.New(c.Settings)
}

// Prompt returns the named prompt template, or fallback.
func (c AgentConfig) Prompt(name, fallback string) string {
	if p, ok := c.Prompts[name]; ok && p != "" {
		return p
	}
	return fallback
}

// Call builds the call parameters for a tier. Per-node overrides are read
// from settings under "<node>.max_tokens" and "<node>.temperature".
func (c AgentConfig) Call(tier Tier, node string) CallConfig {
	model := c.Models.Capable
	if tier == Cheap {
		model = c.Models.Cheap
	}
	s := c.Config()
	return CallConfig{
		Tier:        tier,
		Purpose:     node,
		Model:       model,
		MaxTokens:   s.Int(node+".max_tokens", c.MaxTokens),
		Temperature: s.Float(node+".temperature", c.Temperature),
	}
}

// String identifies the agent in logs.
func (c AgentConfig) String() string {
	return fmt.Sprintf("%s(%s)", c.ID, c.Type)
}
