package agentgraph

import (
	"maps"
	"slices"
)

// CompiledGraph is an immutable, executable graph created by Graph.Compile.
// It holds no per-run state and is safe for concurrent Run/Invoke calls.
type CompiledGraph[S any] struct {
	name             string
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	entryPoint       string
	predecessors     map[string][]string
}

// Name returns the graph name.
func (cg *CompiledGraph[S]) Name() string {
	return cg.name
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers, sorted.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return slices.Sorted(maps.Keys(cg.nodes))
}

// HasNode reports whether a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns the simple-edge targets of a node. Router targets are
// decided at run time and are not included.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if id == END {
		return nil
	}
	return cg.edges[id]
}

// Predecessors returns the nodes with a simple edge into id.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return cg.predecessors[id]
}

// IsConditional reports whether the node has a router.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}
