/*
Package agentgraph is the graph engine under the agent workflows: typed
state flows through nodes, routers pick the next node, and every completed
node is checkpointed so a run can be resumed under its thread ID.

# Building a graph

	type State struct {
	    Query  string
	    Answer string
	}

	graph := agentgraph.NewGraph[State]().
	    AddNode("answer", answer).
	    AddNode("review", review).
	    AddEdge("answer", "review").
	    AddConditionalEdge("review", func(ctx agentgraph.Context, s State) string {
	        if s.Answer == "" {
	            return "answer"
	        }
	        return agentgraph.END
	    }).
	    SetEntry("answer")

	compiled, err := graph.Compile()

Compile validates the structure once; a CompiledGraph is immutable and
shared by every run. Routers must be pure functions of the state. Cycles
are allowed and bounded by WithMaxIterations (default 1000).

# Running

Run always starts at the entry node. Invoke is what workflows use: with a
checkpoint store and a thread ID it reads the thread's latest checkpoint.
An interrupted run resumes from the node after the last checkpoint. A
finished run returns its final state without executing anything, unless
the state implements Continuable, in which case the stored state is
continued with the new input from the entry node (multi-turn sessions).

	ctx := agentgraph.NewContext(context.Background(), agentgraph.WithLogger(logger))
	final, err := compiled.Invoke(ctx, initial,
		agentgraph.WithCheckpointing(store),
		agentgraph.WithThreadID("agent-7:req-42"))

Resume and ResumeFrom restart from the latest or a specific checkpoint.
Checkpoint writes are retried once on transient store errors and are
otherwise logged and skipped. A store that cannot be read at start is
logged and the run starts fresh, unless WithStrictResume is set.

# Failures

By default a node error stops the run with a *NodeError (*PanicError for
recovered panics). States implementing Failable absorb the failure
instead: the executor records it with WithNodeFailure and asks the node's
router where to go, usually an error-output node. A done context.Context
stops the run before the next node with a *CancellationError, which is
never absorbed.

# Observability

WithObservabilityLogger logs run and node lifecycle with thread_id,
node_id and attempt. WithMetrics and WithTracing enable OpenTelemetry
instruments and spans. WithNodeObserver receives a NodeRecord and the
state before and after each node; cost telemetry is built on it.

# Subpackages

  - checkpoint: append-only stores (memory, SQLite, Redis, MongoDB)
  - state, route, saga: the workflow building blocks
  - workflow: the five agent workflow types
  - service: the Execute entry point
*/
package agentgraph
