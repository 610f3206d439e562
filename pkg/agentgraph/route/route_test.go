package route

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
)

type scored struct {
	state.Base
	Label string
	Score float64
}

func table() Table[scored] {
	return New("escalate",
		OnFailure[scored]("error_output"),
		When("healthy", func(s scored) bool { return s.Label == "healthy" && AtLeast(s.Score, 0.85) }, "output"),
		When("uncertain", func(s scored) bool { return s.Label == "uncertain" }, "escalate"),
	)
}

func TestTable_Decide(t *testing.T) {
	failed := scored{Label: "healthy", Score: 1}
	failed.Fail("screen", errors.New("boom"))

	tests := []struct {
		name string
		in   scored
		want string
	}{
		{"failure wins", failed, "error_output"},
		{"threshold inclusive", scored{Label: "healthy", Score: 0.85}, "output"},
		{"below threshold", scored{Label: "healthy", Score: 0.8499}, "escalate"},
		{"uncertain", scored{Label: "uncertain", Score: 0.99}, "escalate"},
		{"fallback", scored{Label: "other"}, "escalate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table().Decide(tt.in))
		})
	}
}

func TestTable_MatchReportsRule(t *testing.T) {
	r, ok := table().Match(scored{Label: "uncertain"})
	assert.True(t, ok)
	assert.Equal(t, "uncertain", r.Name)

	r, ok = table().Match(scored{})
	assert.False(t, ok)
	assert.Equal(t, "default", r.Name)
	assert.Equal(t, "escalate", r.Next)
}

func TestTable_Targets(t *testing.T) {
	assert.Equal(t, []string{"error_output", "output", "escalate", "escalate"}, table().Targets())
}

func TestRouterAndThen(t *testing.T) {
	ctx := agentgraph.NewContext(context.Background())
	assert.Equal(t, "output", table().Router()(ctx, scored{Label: "healthy", Score: 0.9}))

	then := Then[scored]("next", "error_output")
	assert.Equal(t, "next", then(ctx, scored{}))

	failed := scored{}
	failed.Fail("n", errors.New("x"))
	assert.Equal(t, "error_output", then(ctx, failed))
}

// The first matching rule always decides; with no match the fallback does.
func TestTable_FirstMatchWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "rules")
		thresholds := rapid.SliceOfN(rapid.Float64Range(0, 1), n, n).Draw(t, "thresholds")
		v := rapid.Float64Range(0, 1).Draw(t, "value")

		rules := make([]Rule[float64], n)
		for i, th := range thresholds {
			rules[i] = When("r", func(x float64) bool { return AtLeast(x, th) }, string(rune('a'+i)))
		}
		got := New("fallback", rules...).Decide(v)

		want := "fallback"
		for i, th := range thresholds {
			if v >= th {
				want = string(rune('a' + i))
				break
			}
		}
		if got != want {
			t.Fatalf("Decide(%v) = %q, want %q", v, got, want)
		}
	})
}
