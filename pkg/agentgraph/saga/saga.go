// Package saga runs independent branches concurrently under one shared
// deadline and aggregates whatever subset of them succeeded.
//
// A branch that fails, panics or overruns the deadline never affects its
// siblings. Branches still running at the deadline are detached: their
// context is cancelled as a hint, but nobody waits for them and their late
// results are dropped.
package saga

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
)

// DefaultTimeout is the shared deadline when Coordinator.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Status is the outcome of one branch.
type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	TimedOut  Status = "timed_out"
)

// ErrDeadline is the cancellation cause seen by branches cut off by the
// shared deadline.
var ErrDeadline = errors.New("saga deadline exceeded")

// Outcome is what a successful branch produces.
type Outcome struct {
	Payload    any
	Confidence float64
}

// Branch is one named unit of concurrent work.
type Branch struct {
	Name string
	Run  func(ctx context.Context) (Outcome, error)
}

// Result records what happened to one branch.
type Result struct {
	Branch     string          `json:"branch_name"`
	Status     Status          `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Confidence float64         `json:"confidence"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration_ns"`
}

// Coordinator runs branch sets. The zero value is usable.
type Coordinator struct {
	// Timeout is the shared wall-clock deadline. Default: 30s.
	Timeout time.Duration

	// MaxConcurrency bounds how many branches run at once. Zero means all.
	MaxConcurrency int64

	Logger *slog.Logger
	Spans  observability.SpanManager
}

type indexed struct {
	i   int
	res Result
}

// Run starts every branch at once and returns one Result per branch, in
// the order given. It returns when all branches finished or the deadline
// passed, whichever comes first.
func (c *Coordinator) Run(ctx context.Context, branches []Branch) []Result {
	logger := cmp.Or(c.Logger, slog.Default())
	var spans observability.SpanManager = observability.NoopSpanManager{}
	if c.Spans != nil {
		spans = c.Spans
	}
	timeout := cmp.Or(c.Timeout, DefaultTimeout)

	runCtx, cancel := context.WithTimeoutCause(ctx, timeout, ErrDeadline)
	defer cancel()

	var sem *semaphore.Weighted
	if c.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(c.MaxConcurrency)
	}

	start := time.Now()
	// Buffered so detached stragglers can always deliver and exit.
	done := make(chan indexed, len(branches))

	for i, b := range branches {
		go func() {
			if sem != nil {
				if err := sem.Acquire(runCtx, 1); err != nil {
					done <- indexed{i, interrupted(runCtx, b.Name, start)}
					return
				}
				defer sem.Release(1)
			}
			done <- indexed{i, runBranch(runCtx, spans, b)}
		}()
	}

	results := make([]Result, len(branches))
	seen := make([]bool, len(branches))
	pending := len(branches)

collect:
	for pending > 0 {
		select {
		case r := <-done:
			results[r.i], seen[r.i] = r.res, true
			pending--
		case <-runCtx.Done():
			// Keep results that landed together with the deadline.
			for {
				select {
				case r := <-done:
					results[r.i], seen[r.i] = r.res, true
					pending--
				default:
					break collect
				}
			}
		}
	}

	for i, b := range branches {
		if !seen[i] {
			results[i] = interrupted(runCtx, b.Name, start)
		}
	}

	for _, r := range results {
		if r.Status != Succeeded {
			logger.Warn("saga branch did not succeed",
				"branch", r.Branch,
				"status", string(r.Status),
				"error", r.Error,
				"duration_ms", r.Duration.Milliseconds(),
			)
		}
	}
	logger.Debug("saga completed",
		"branches", len(branches),
		"succeeded", count(results, Succeeded),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results
}

func runBranch(ctx context.Context, spans observability.SpanManager, b Branch) (res Result) {
	spanCtx, span := spans.StartBranchSpan(ctx, b.Name)
	start := time.Now()
	res = Result{Branch: b.Name}

	defer func() {
		if r := recover(); r != nil {
			res.Status = Failed
			res.Error = fmt.Sprintf("panic: %v", r)
			res.Payload = nil
		}
		res.Duration = time.Since(start)
		var err error
		if res.Status != Succeeded {
			err = errors.New(res.Error)
		}
		spans.EndSpanWithError(span, err)
	}()

	out, err := b.Run(spanCtx)
	if err != nil {
		res.Status = Failed
		if errors.Is(context.Cause(ctx), ErrDeadline) {
			res.Status = TimedOut
		}
		res.Error = err.Error()
		return res
	}

	payload, err := json.Marshal(out.Payload)
	if err != nil {
		res.Status = Failed
		res.Error = fmt.Sprintf("encode payload: %v", err)
		return res
	}

	res.Status = Succeeded
	res.Payload = payload
	res.Confidence = out.Confidence
	return res
}

// interrupted builds the result for a branch cut off by the deadline or by
// the caller's cancellation.
func interrupted(ctx context.Context, name string, start time.Time) Result {
	res := Result{Branch: name, Duration: time.Since(start)}
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrDeadline) {
		res.Status = TimedOut
	} else {
		res.Status = Failed
	}
	if cause != nil {
		res.Error = cause.Error()
	}
	return res
}

func count(results []Result, s Status) int {
	n := 0
	for _, r := range results {
		if r.Status == s {
			n++
		}
	}
	return n
}
