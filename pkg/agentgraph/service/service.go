// Package service is the entry point for running agents.
//
// Execute resolves an agent's configuration, picks the workflow builder for
// its type and runs it under the thread ID "<agent_id>:<correlation_id>",
// so a retried invocation with the same correlation ID resumes or returns
// the earlier run instead of starting over.
//
// Only configuration problems are returned as errors. Anything that goes
// wrong inside a workflow, including invalid input, is reported through
// WorkflowResult.Success and WorkflowResult.ErrorMessage.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/telemetry"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/conversational"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/explorer"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/extractor"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/generator"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/tieredvision"
)

// ErrAgentNotFound is returned when the configuration store has no agent
// with the requested ID.
var ErrAgentNotFound = errors.New("agent not found")

// ErrCheckpointingDisabled is returned by Inspect when the service runs
// without a checkpoint store.
var ErrCheckpointingDisabled = errors.New("checkpointing is disabled")

// ConfigurationError reports an agent whose configuration cannot be turned
// into a workflow: an unsupported type, invalid settings or missing
// capabilities.
type ConfigurationError struct {
	AgentID string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("agent %s: configuration error: %v", e.AgentID, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Request is one execution request.
type Request struct {
	AgentID string          `json:"agent_id"`
	Input   json.RawMessage `json:"input"`
	// CorrelationID identifies the logical request. A random one is used
	// when empty, which makes the run non-resumable by the caller.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// WorkflowResult is the structured result of every execution.
type WorkflowResult struct {
	AgentID       string             `json:"agent_id"`
	WorkflowType  state.WorkflowType `json:"workflow_type"`
	ThreadID      string             `json:"thread_id"`
	CorrelationID string             `json:"correlation_id"`

	Output  json.RawMessage `json:"output,omitempty"`
	Success bool            `json:"success"`

	ModelUsed       string `json:"model_used,omitempty"`
	TokensUsed      int    `json:"tokens_used"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`

	ErrorMessage string `json:"error_message,omitempty"`
	// ErrorField names the offending field for validation failures.
	ErrorField string `json:"error_field,omitempty"`
	// FailedNode is the node whose failure ended the run.
	FailedNode string `json:"failed_node,omitempty"`
}

// Service executes agents.
type Service struct {
	configs   capability.ConfigStore
	caps      capability.Set
	factories *workflow.Registry

	store   checkpoint.Store
	sink    telemetry.Sink
	logger  *slog.Logger
	runOpts []agentgraph.RunOption

	builders *registry.Registry[string, *cachedBuilder]
}

type cachedBuilder struct {
	cfg     capability.AgentConfig
	builder workflow.Builder
}

// Option configures a Service.
type Option func(*Service)

// WithCheckpointStore enables checkpointing and resumption.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithTelemetry sets the cost telemetry sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFactories replaces the default workflow factories.
func WithFactories(r *workflow.Registry) Option {
	return func(s *Service) { s.factories = r }
}

// WithRunOptions adds engine options to every run, such as metrics and
// tracing.
func WithRunOptions(opts ...agentgraph.RunOption) Option {
	return func(s *Service) { s.runOpts = append(s.runOpts, opts...) }
}

// DefaultFactories registers every workflow type.
func DefaultFactories() *workflow.Registry {
	return workflow.NewRegistry().
		Register(state.Extractor, extractor.Factory).
		Register(state.Explorer, explorer.Factory).
		Register(state.Generator, generator.Factory).
		Register(state.Conversational, conversational.Factory).
		Register(state.TieredVision, tieredvision.Factory)
}

// New creates a Service. The capability set must carry an LLM gateway.
func New(configs capability.ConfigStore, caps capability.Set, opts ...Option) (*Service, error) {
	if configs == nil {
		return nil, errors.New("service: config store is required")
	}
	if err := caps.Validate(); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	s := &Service{
		configs:   configs,
		caps:      caps,
		factories: DefaultFactories(),
		logger:    slog.Default(),
		builders:  registry.New[string, *cachedBuilder](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ThreadID returns the thread an agent's request runs under.
func ThreadID(agentID, correlationID string) string {
	return agentID + ":" + correlationID
}

// Execute runs the agent named in req.
//
// It returns ErrAgentNotFound for an unknown agent and a
// *ConfigurationError for an agent that cannot be built. Workflow
// failures are reported in the result with a nil error. A run cut short
// by ctx returns the partial result together with ctx's error.
func (s *Service) Execute(ctx context.Context, req Request) (WorkflowResult, error) {
	builder, err := s.builder(ctx, req.AgentID)
	if err != nil {
		return WorkflowResult{}, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	threadID := ThreadID(req.AgentID, correlationID)
	input := req.Input
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	logger := s.logger.With("agent_id", req.AgentID, "workflow_type", builder.Type(), "thread_id", threadID)

	start := time.Now()
	outcome, runErr := builder.Execute(ctx, workflow.Invocation{
		ThreadID:      threadID,
		CorrelationID: correlationID,
		Input:         input,
		Store:         s.store,
		Sink:          s.sink,
		Logger:        logger,
		Options:       s.runOpts,
	})
	elapsed := time.Since(start)

	result := WorkflowResult{
		AgentID:         req.AgentID,
		WorkflowType:    builder.Type(),
		ThreadID:        threadID,
		CorrelationID:   correlationID,
		Output:          outcome.Output,
		Success:         runErr == nil && outcome.Success(),
		ModelUsed:       outcome.Usage.LastModel(),
		TokensUsed:      outcome.Usage.Tokens(),
		ExecutionTimeMs: elapsed.Milliseconds(),
	}
	switch {
	case runErr != nil:
		result.ErrorMessage = runErr.Error()
	case outcome.Failure != nil:
		result.ErrorMessage = outcome.Failure.Message
		result.ErrorField = outcome.Failure.Field
		result.FailedNode = outcome.Failure.Node
	case !result.Success:
		result.ErrorMessage = "workflow finished without output"
	}

	s.emitRun(ctx, logger, builder, threadID, outcome, elapsed, result.Success)

	if runErr != nil {
		logger.Error("execution failed", "error", runErr, "duration_ms", result.ExecutionTimeMs)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return result, nil
	}
	logger.Info("execution finished",
		"success", result.Success,
		"duration_ms", result.ExecutionTimeMs,
		"tokens", result.TokensUsed,
	)
	return result, nil
}

func (s *Service) emitRun(ctx context.Context, logger *slog.Logger, b workflow.Builder, threadID string, o workflow.Outcome, elapsed time.Duration, success bool) {
	if s.sink == nil {
		return
	}
	var evt telemetry.CostEvent
	if o.State != nil {
		evt = telemetry.RunEvent(o.State, elapsed, success)
	} else {
		evt = telemetry.CostEvent{
			Kind:         telemetry.KindRun,
			ThreadID:     threadID,
			AgentID:      b.Agent().ID,
			WorkflowType: b.Type(),
			DurationMs:   elapsed.Milliseconds(),
			Success:      success,
		}
	}
	// Emitted even when the caller's context is done.
	telemetry.Emit(context.WithoutCancel(ctx), s.sink, logger, evt)
}

// builder returns the cached builder for agentID, rebuilding it when the
// agent's configuration changed since it was built.
func (s *Service) builder(ctx context.Context, agentID string) (workflow.Builder, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: empty agent id", ErrAgentNotFound)
	}
	cfg, err := s.configs.Get(ctx, agentID)
	if err != nil {
		if errors.Is(err, capability.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
		}
		return nil, fmt.Errorf("resolve agent %s: %w", agentID, err)
	}

	if cached, ok := s.builders.Get(agentID); ok {
		if cmp.Equal(cached.cfg, cfg) {
			return cached.builder, nil
		}
		s.logger.Info("agent configuration changed, rebuilding workflow", "agent_id", agentID)
		s.builders.Delete(agentID)
	}

	cached, err := s.builders.GetOrCreate(agentID, func() (*cachedBuilder, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		b, err := s.factories.Build(cfg, s.caps)
		if err != nil {
			return nil, err
		}
		return &cachedBuilder{cfg: cfg, builder: b}, nil
	})
	if err != nil {
		return nil, &ConfigurationError{AgentID: agentID, Err: err}
	}
	return cached.builder, nil
}

// Agents lists the configured agents.
func (s *Service) Agents(ctx context.Context) ([]capability.AgentConfig, error) {
	return s.configs.List(ctx)
}
