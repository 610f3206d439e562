// Package route builds conditional routers from ordered decision tables.
//
// A table is data: a list of named predicates with their target node,
// evaluated in order, plus a fallback. The first rule whose predicate holds
// decides the next node. Predicates must be pure.
package route

import (
	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

// Rule pairs a predicate with the node it routes to.
type Rule[S any] struct {
	Name string
	When func(S) bool
	Next string
}

// When creates a rule.
func When[S any](name string, pred func(S) bool, next string) Rule[S] {
	return Rule[S]{Name: name, When: pred, Next: next}
}

// OnFailure routes any state carrying a captured failure to next.
// Put it first in a table so failures win over every other rule.
func OnFailure[S state.State](next string) Rule[S] {
	return Rule[S]{
		Name: "failure",
		When: func(s S) bool { return s.Core().Failed() },
		Next: next,
	}
}

// Table is an ordered routing table.
type Table[S any] struct {
	rules    []Rule[S]
	fallback string
}

// New creates a table. fallback is used when no rule matches.
func New[S any](fallback string, rules ...Rule[S]) Table[S] {
	return Table[S]{rules: rules, fallback: fallback}
}

// Match returns the first matching rule. ok is false when the fallback applies.
func (t Table[S]) Match(s S) (rule Rule[S], ok bool) {
	for _, r := range t.rules {
		if r.When(s) {
			return r, true
		}
	}
	return Rule[S]{Name: "default", Next: t.fallback}, false
}

// Decide returns the next node for s.
func (t Table[S]) Decide(s S) string {
	r, _ := t.Match(s)
	return r.Next
}

// Targets lists every node the table can route to, fallback last.
func (t Table[S]) Targets() []string {
	out := make([]string, 0, len(t.rules)+1)
	for _, r := range t.rules {
		out = append(out, r.Next)
	}
	return append(out, t.fallback)
}

// Router adapts the table to the engine, logging each decision at Debug.
func (t Table[S]) Router() agentgraph.RouterFunc[S] {
	return func(ctx agentgraph.Context, s S) string {
		r, _ := t.Match(s)
		ctx.Logger().Debug("route decided", "rule", r.Name, "next_node", r.Next)
		return r.Next
	}
}

// Then is the router for a linear step that can fail: failures go to
// onFailure, everything else to next.
func Then[S state.State](next, onFailure string) agentgraph.RouterFunc[S] {
	return New(next, OnFailure[S](onFailure)).Router()
}

// AtLeast reports whether v reaches threshold. Thresholds are inclusive.
func AtLeast(v, threshold float64) bool {
	return v >= threshold
}
