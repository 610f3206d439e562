package agentgraph

import "time"

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and the current state and return the
// updated state. The state is passed by value; return the modified copy.
//
// A node that performs I/O (an LLM call, a context fetch) blocks inside its
// own function body. The executor never suspends on the node's behalf.
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc picks the next node from the state a node produced.
// Routers must be pure: no I/O, no side effects. They return a node ID or END.
type RouterFunc[S any] func(ctx Context, state S) string

// Failable is implemented by states that absorb node failures.
//
// When a node of a graph over a Failable state returns an error or panics,
// the executor records the failure with WithNodeFailure on the state the
// node returned (the input state after a panic) and hands it to the node's
// router instead of aborting the run. States
// that don't implement Failable keep the fail-fast behavior: the run stops
// with a *NodeError.
type Failable[S any] interface {
	WithNodeFailure(nodeID string, err error) S
}

// Continuable is implemented by states that span several invocations of the
// same thread (multi-turn sessions).
//
// When Invoke finds a completed checkpoint for the thread, ContinueWith is
// called on the stored state with the caller's new input and the run starts
// again from the entry node. Without Continuable, Invoke returns the stored
// final state unchanged.
type Continuable[S any] interface {
	ContinueWith(next S) S
}

// NodeRecord describes one node execution for telemetry.
type NodeRecord struct {
	Node      string
	StartedAt time.Time
	EndedAt   time.Time
	// Err is the failure the node produced, captured or not.
	Err error
}

// Duration returns how long the node ran.
func (r NodeRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// NodeObserver is called after every node with the state before and after.
// Observers run on the executor goroutine and must not block.
type NodeObserver[S any] func(rec NodeRecord, before, after S)
