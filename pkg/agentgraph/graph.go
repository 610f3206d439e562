package agentgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for execution graphs.
//
// Build the graph on one goroutine, then call Compile to obtain an immutable
// CompiledGraph that can be shared and run concurrently:
//
//	g := agentgraph.NewGraph[VisionState]().
//	    AddNode("preprocess", preprocess).
//	    AddNode("screen", screen).
//	    AddEdge("preprocess", "screen").
//	    AddConditionalEdge("screen", routeScreen).
//	    SetEntry("preprocess")
type Graph[S any] struct {
	mu               sync.RWMutex
	name             string
	nodes            map[string]NodeFunc[S]
	edges            map[string][]string
	conditionalEdges map[string]RouterFunc[S]
	entryPoint       string
}

// NewGraph creates a new graph builder for state type S.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		name:             "agentgraph",
		nodes:            make(map[string]NodeFunc[S]),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]RouterFunc[S]),
	}
}

// Named sets the graph name reported on run spans and logs.
func (g *Graph[S]) Named(name string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if name != "" {
		g.name = name
	}
	return g
}

// AddNode adds a named node to the graph.
//
// Panics if id is empty, reserved ("END"/"__end__", any case), contains
// whitespace, or is already registered, or if fn is nil. These are
// programming errors in graph construction, not runtime conditions.
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if id == "" {
		panic("agentgraph: node ID cannot be empty")
	}

	switch strings.ToLower(id) {
	case "end", END:
		panic("agentgraph: node ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("agentgraph: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("agentgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("agentgraph: duplicate node ID: %s", id))
	}

	g.nodes[id] = fn
	return g
}

// AddEdge adds an unconditional edge. The target can be a node ID or END.
// References are validated by Compile, so edges may be added in any order.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge routes the output of from through router.
// A conditional edge takes precedence over simple edges from the same node.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S]) *Graph[S] {
	if router == nil {
		panic("agentgraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = router
	return g
}

// SetEntry designates the entry point node.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
