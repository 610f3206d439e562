// Package benchmarks measures engine, store and workflow overhead.
package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
)

// Steps counts visited nodes.
type Steps struct {
	N int `json:"n"`
}

func step(_ agentgraph.Context, s Steps) (Steps, error) {
	s.N++
	return s, nil
}

func linear(n int) *agentgraph.Graph[Steps] {
	g := agentgraph.NewGraph[Steps]()
	for i := range n {
		g.AddNode(fmt.Sprintf("n%d", i), step)
		if i > 0 {
			g.AddEdge(fmt.Sprintf("n%d", i-1), fmt.Sprintf("n%d", i))
		}
	}
	return g.AddEdge(fmt.Sprintf("n%d", n-1), agentgraph.END).SetEntry("n0")
}

func mustCompile(b *testing.B, g *agentgraph.Graph[Steps]) *agentgraph.CompiledGraph[Steps] {
	b.Helper()
	compiled, err := g.Compile()
	if err != nil {
		b.Fatal(err)
	}
	return compiled
}

func BenchmarkCompile_Linear_50(b *testing.B) {
	for b.Loop() {
		_ = mustCompile(b, linear(50))
	}
}

func BenchmarkRun_Linear(b *testing.B) {
	for _, n := range []int{5, 50} {
		b.Run(fmt.Sprint(n), func(b *testing.B) {
			compiled := mustCompile(b, linear(n))
			ctx := agentgraph.NewContext(context.Background())
			for b.Loop() {
				_, _ = compiled.Run(ctx, Steps{})
			}
		})
	}
}

// BenchmarkRun_Checkpointed writes one checkpoint per node to memory.
func BenchmarkRun_Checkpointed(b *testing.B) {
	compiled := mustCompile(b, linear(5))
	ctx := agentgraph.NewContext(context.Background())
	store := checkpoint.NewMemoryStore()
	i := 0
	for b.Loop() {
		i++
		_, _ = compiled.Run(ctx, Steps{},
			agentgraph.WithCheckpointing(store),
			agentgraph.WithThreadID(fmt.Sprintf("bench:%d", i)),
		)
	}
}
