package agentgraph

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// DefaultMaxIterations caps node executions per run.
const DefaultMaxIterations = 1000

// runConfig holds configuration for one execution.
type runConfig struct {
	maxIterations int

	store    checkpoint.Store
	threadID string
	sequence int64

	checkpointFailureFatal bool
	strictResume           bool
	checkpointRetry        agerrors.RetryConfig

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	// observers holds NodeObserver[S] values for the graph's S.
	observers []any
}

func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		checkpointRetry: agerrors.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
			Multiplier:     2,
		},
	}
}

func newRunConfig(opts []RunOption) runConfig {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RunOption configures one Run, Invoke or Resume call.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Non-positive values are ignored. Default: 1000.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpointing enables a checkpoint write after every node.
// A thread ID (WithThreadID) is required alongside it.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.store = store
	}
}

// WithThreadID sets the thread the run belongs to.
func WithThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithCheckpointFailureFatal makes checkpoint write failures abort the run.
// By default they are logged and the run continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithStrictResume makes Invoke fail when the checkpoint store cannot be
// read at start. By default the run proceeds without resumption.
func WithStrictResume(strict bool) RunOption {
	return func(c *runConfig) {
		c.strictResume = strict
	}
}

// WithCheckpointRetry overrides the retry policy for checkpoint writes.
func WithCheckpointRetry(cfg agerrors.RetryConfig) RunOption {
	return func(c *runConfig) {
		if cfg.MaxAttempts > 0 {
			c.checkpointRetry = cfg
		}
	}
}

// WithObservabilityLogger enables run and node lifecycle logging.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics through the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder sets an explicit metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for the run and each node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithSpanManager enables tracing through an explicit span manager.
func WithSpanManager(sm observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if sm != nil {
			c.spans = sm
			c.tracingEnabled = true
		}
	}
}

// WithNodeObserver registers a callback invoked after every node.
// S must match the state type of the graph being run; observers for other
// state types are ignored.
func WithNodeObserver[S any](fn NodeObserver[S]) RunOption {
	return func(c *runConfig) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}
