package agentgraph

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph from the entry point with the given state.
// It never reads existing checkpoints; use Invoke for resumable runs.
//
// On error the returned state is the state at the point of failure.
// Node failures on Failable states are not errors: they are recorded in the
// state and routed like any other outcome.
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := newRunConfig(opts)
	if cfg.store != nil && cfg.threadID == "" {
		return state, ErrThreadIDRequired
	}

	return cg.run(ctx, state, cg.entryPoint, &cfg, "", 0)
}

// run wraps the node loop with run-level logging, metrics and tracing.
func (cg *CompiledGraph[S]) run(ctx Context, state S, start string, cfg *runConfig, resumedFrom string, attempt int) (result S, runErr error) {
	ec := asExecutionContext(ctx).forRun(cfg.threadID, attempt)
	startTime := time.Now()

	observability.LogRunStart(cfg.logger, ec.threadID, cg.name, resumedFrom)

	if cfg.tracingEnabled {
		spanCtx, span := cfg.spans.StartRunSpan(ec, cg.name, ec.threadID)
		ec = ec.withStd(spanCtx)
		defer func() {
			cfg.spans.EndSpanWithError(span, runErr)
		}()
	}

	result, nodeCount, runErr := cg.loop(ec, state, start, cfg)

	duration := time.Since(startTime)
	cfg.metrics.RecordGraphRun(ec, cg.name, runErr == nil, duration)

	durationMs := float64(duration.Milliseconds())
	if runErr != nil {
		observability.LogRunError(cfg.logger, ec.threadID, runErr, durationMs, lastNodeOf(runErr))
	} else {
		observability.LogRunComplete(cfg.logger, ec.threadID, durationMs, nodeCount)
	}

	return result, runErr
}

// loop runs nodes from current until END. It returns the final state and
// the number of nodes executed.
func (cg *CompiledGraph[S]) loop(ec *executionContext, state S, current string, cfg *runConfig) (S, int, error) {
	iterations := 0
	nodeCount := 0
	prevNode := ""

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		if err := ec.Err(); err != nil {
			return state, nodeCount, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  context.Cause(ec),
			}
		}

		observability.LogNodeStart(cfg.logger, current)

		var nodeStd context.Context = ec
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeStd, nodeSpan = cfg.spans.StartNodeSpan(ec, current)
		}
		nodeCtx := ec.withStd(nodeStd).withNodeID(current)

		before := state
		rec := NodeRecord{Node: current, StartedAt: time.Now()}
		after, nodeErr := cg.executeNode(nodeCtx, current, state)
		rec.EndedAt = time.Now()
		rec.Err = nodeErr

		cfg.metrics.RecordNodeExecution(nodeStd, current, rec.Duration(), nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			if ec.Err() != nil {
				return before, nodeCount, &CancellationError{
					NodeID:       current,
					State:        before,
					Cause:        context.Cause(ec),
					WasExecuting: true,
				}
			}

			// after carries what the node recorded before failing, such as
			// model usage; a recovered panic hands back before.
			failable, ok := any(after).(Failable[S])
			if !ok {
				observability.LogNodeError(cfg.logger, current, nodeErr)
				return after, nodeCount, nodeErr
			}

			observability.LogNodeFailureCaptured(cmp.Or(cfg.logger, nodeCtx.runLog), current, nodeErr)
			after = failable.WithNodeFailure(current, nodeCause(nodeErr))
		} else {
			observability.LogNodeComplete(cfg.logger, current, float64(rec.Duration().Milliseconds()))
		}

		state = after
		nodeCount++
		notifyObservers(cfg.observers, rec, before, state)

		next, err := cg.nextNode(nodeCtx, state, current)
		if err != nil {
			return state, nodeCount, err
		}

		if cfg.store != nil {
			if err := cg.saveCheckpoint(nodeCtx, cfg, current, prevNode, state, next); err != nil {
				return state, nodeCount, err
			}
		}

		prevNode = current
		current = next
	}

	return state, nodeCount, nil
}

// nodeCause strips the executor's NodeError wrapper; the failing node is
// recorded separately.
func nodeCause(err error) error {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) && nodeErr.Err != nil {
		return nodeErr.Err
	}
	return err
}

func notifyObservers[S any](observers []any, rec NodeRecord, before, after S) {
	for _, o := range observers {
		if fn, ok := o.(NodeObserver[S]); ok {
			fn(rec, before, after)
		}
	}
}

// executeNode runs one node, converting panics into *PanicError.
func (cg *CompiledGraph[S]) executeNode(ctx *executionContext, nodeID string, state S) (result S, err error) {
	fn, exists := cg.nodes[nodeID]
	if !exists {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(ctx, state)
	if err != nil {
		return result, &NodeError{NodeID: nodeID, Op: "execute", Err: err}
	}
	return result, nil
}

// nextNode asks the node's router, or follows its first simple edge.
func (cg *CompiledGraph[S]) nextNode(ctx *executionContext, state S, current string) (string, error) {
	if router, ok := cg.conditionalEdges[current]; ok {
		next := router(ctx, state)
		if next == "" {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrInvalidRouterResult}
		}
		if next != END && !cg.HasNode(next) {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetNotFound}
		}
		return next, nil
	}

	edges := cg.edges[current]
	if len(edges) == 0 {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}
	return edges[0], nil
}

// saveCheckpoint appends a checkpoint for the node that just completed.
// Failures are logged and swallowed unless checkpointFailureFatal is set.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx *executionContext, cfg *runConfig, nodeID, prevNodeID string, state S, nextNode string) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return cg.checkpointFailed(ctx, cfg, nodeID, "serialize", err)
	}

	cfg.sequence++
	rec, err := checkpoint.NewEnvelope(cfg.threadID, nodeID, cfg.sequence, stateBytes, nextNode).
		WithPrevNode(prevNodeID).
		WithAttempt(ctx.attempt).
		Record()
	if err != nil {
		return cg.checkpointFailed(ctx, cfg, nodeID, "serialize", err)
	}

	res := agerrors.WithRetryContext(ctx, cfg.checkpointRetry, func(c context.Context) (struct{}, error) {
		return struct{}{}, cfg.store.Put(c, rec)
	})
	if res.Err != nil {
		return cg.checkpointFailed(ctx, cfg, nodeID, "save", res.Err)
	}

	observability.LogCheckpoint(cfg.logger, nodeID, rec.Sequence, len(rec.Blob))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(rec.Blob)))
	return nil
}

func (cg *CompiledGraph[S]) checkpointFailed(ctx *executionContext, cfg *runConfig, nodeID, op string, err error) error {
	cfg.metrics.RecordCheckpointFailure(ctx, op)
	if cfg.checkpointFailureFatal {
		return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
	}
	observability.LogCheckpointError(cmp.Or(cfg.logger, ctx.runLog), nodeID, op, err)
	return nil
}
