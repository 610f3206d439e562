package agentgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes.
// It extends context.Context with the run's logger and identity.
//
// Context is immutable after creation. The executor derives a context per
// node with the node ID set and the logger enriched.
type Context interface {
	context.Context

	// Logger returns the logger enriched with thread and node context.
	// Never returns nil.
	Logger() *slog.Logger

	// ThreadID returns the identifier of the run. It doubles as the
	// checkpoint partition key.
	ThreadID() string

	// NodeID returns the node being executed, empty outside a node.
	NodeID() string

	// Attempt returns the attempt number of the run (1 = first attempt,
	// incremented on every resume).
	Attempt() int
}

type executionContext struct {
	context.Context

	logger   *slog.Logger
	threadID string
	nodeID   string
	attempt  int

	// runLog carries thread and attempt but not the node, for engine
	// lines that name the node themselves.
	runLog *slog.Logger
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }

func (c *executionContext) ThreadID() string { return c.threadID }

func (c *executionContext) NodeID() string { return c.nodeID }

func (c *executionContext) Attempt() int { return c.attempt }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger is enriched with thread_id, node_id and attempt during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextThreadID sets the thread identifier used for logging.
// If not set, a UUID is generated. Checkpointing uses the WithThreadID
// run option, which takes precedence.
func WithContextThreadID(id string) ContextOption {
	return func(c *executionContext) {
		c.threadID = id
	}
}

// NewContext creates an execution context from a standard context.
//
//	ctx := agentgraph.NewContext(context.Background(),
//	    agentgraph.WithLogger(logger),
//	    agentgraph.WithContextThreadID("vision-1:abc"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context:  ctx,
		logger:   slog.Default(),
		threadID: uuid.New().String(),
		attempt:  1,
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// asExecutionContext returns ctx as the internal implementation, wrapping
// foreign Context implementations so the executor can derive node contexts.
func asExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{
		Context:  ctx,
		logger:   ctx.Logger(),
		threadID: ctx.ThreadID(),
		attempt:  ctx.Attempt(),
	}
}

// forRun returns a copy bound to the run's thread and attempt.
func (c *executionContext) forRun(threadID string, attempt int) *executionContext {
	cp := *c
	if threadID != "" {
		cp.threadID = threadID
	}
	if attempt > 0 {
		cp.attempt = attempt
	}
	return &cp
}

// withStd swaps the underlying context.Context, keeping identity.
func (c *executionContext) withStd(ctx context.Context) *executionContext {
	cp := *c
	cp.Context = ctx
	return &cp
}

// withNodeID returns a derived context for one node.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	runLog := c.logger.With("thread_id", c.threadID, "attempt", c.attempt)
	return &executionContext{
		Context:  c.Context,
		logger:   runLog.With("node_id", nodeID),
		runLog:   runLog,
		threadID: c.threadID,
		nodeID:   nodeID,
		attempt:  c.attempt,
	}
}
