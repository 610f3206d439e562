package agentgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compile validates the graph and creates an executable CompiledGraph.
// All validation failures are joined into one error.
//
// Checks, in order: entry point set, entry point exists, every edge source
// and target exists (END is always a valid target), every conditional edge
// source exists, and END is reachable from the entry point.
//
// Nodes unreachable from the entry point are logged, not rejected.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.edges[from] {
			if to == END {
				continue
			}
			if _, exists := g.nodes[to]; !exists {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, from := range slices.Sorted(maps.Keys(g.conditionalEdges)) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
	}

	if _, exists := g.nodes[g.entryPoint]; exists && !g.reachesEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}

	g.warnUnreachable()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.freeze(), nil
}

// reachesEnd propagates "can reach END" backwards until a fixed point.
// A node with a router is assumed able to reach END.
func (g *Graph[S]) reachesEnd() bool {
	ok := map[string]bool{END: true}
	for from := range g.conditionalEdges {
		ok[from] = true
	}

	for changed := true; changed; {
		changed = false
		for from, targets := range g.edges {
			if ok[from] {
				continue
			}
			if slices.ContainsFunc(targets, func(to string) bool { return ok[to] }) {
				ok[from] = true
				changed = true
			}
		}
	}

	return ok[g.entryPoint]
}

func (g *Graph[S]) warnUnreachable() {
	if g.entryPoint == "" {
		return
	}

	seen := map[string]bool{g.entryPoint: true}
	queue := []string{g.entryPoint}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		next := g.edges[current]
		// Router targets are only known at run time.
		if _, routed := g.conditionalEdges[current]; routed {
			next = slices.Collect(maps.Keys(g.nodes))
		}
		for _, id := range next {
			if id != END && !seen[id] {
				seen[id] = true
				queue = append(queue, id)
			}
		}
	}

	for id := range g.nodes {
		if !seen[id] {
			slog.Warn("node is unreachable from entry", "graph", g.name, "node_id", id)
		}
	}
}

func (g *Graph[S]) freeze() *CompiledGraph[S] {
	edges := make(map[string][]string, len(g.edges))
	predecessors := make(map[string][]string)
	for from, targets := range g.edges {
		edges[from] = slices.Clone(targets)
		for _, to := range targets {
			if to != END {
				predecessors[to] = append(predecessors[to], from)
			}
		}
	}

	return &CompiledGraph[S]{
		name:             g.name,
		nodes:            maps.Clone(g.nodes),
		edges:            edges,
		conditionalEdges: maps.Clone(g.conditionalEdges),
		entryPoint:       g.entryPoint,
		predecessors:     predecessors,
	}
}
