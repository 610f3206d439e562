package benchmarks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability/capabilitytest"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/saga"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/tieredvision"
)

// BenchmarkTieredVision_Screened runs the one-tier path with scripted
// capabilities, so it measures orchestration only.
func BenchmarkTieredVision_Screened(b *testing.B) {
	llm := capabilitytest.NewGateway().On(tieredvision.NodeScreen,
		capabilitytest.JSON(tieredvision.ScreenResult{Classification: tieredvision.Healthy, Confidence: 0.95}))
	src := capabilitytest.NewSource().Put(capability.Thumbnail, "leaf", []byte("\xff\xd8\xff"))
	builder, err := tieredvision.New(capability.AgentConfig{ID: "bench", Type: "tiered_vision"},
		capability.Set{LLM: llm, Context: src})
	if err != nil {
		b.Fatal(err)
	}
	input, _ := json.Marshal(tieredvision.Input{DocID: "leaf", HasThumbnail: true})
	ctx := context.Background()

	for b.Loop() {
		out, err := builder.Execute(ctx, workflow.Invocation{ThreadID: "bench:leaf", Input: input})
		if err != nil || !out.Success() {
			b.Fatalf("run failed: %v %+v", err, out.Failure)
		}
	}
}

func BenchmarkSaga_ThreeBranches(b *testing.B) {
	branches := []saga.Branch{
		{Name: "evidence", Run: func(context.Context) (saga.Outcome, error) {
			return saga.Outcome{Payload: "a", Confidence: 0.9}, nil
		}},
		{Name: "causes", Run: func(context.Context) (saga.Outcome, error) {
			return saga.Outcome{Payload: "b", Confidence: 0.6}, nil
		}},
		{Name: "alternatives", Run: func(context.Context) (saga.Outcome, error) {
			return saga.Outcome{}, errors.New("no alternatives")
		}},
	}
	c := &saga.Coordinator{Timeout: time.Second}
	ctx := context.Background()

	for b.Loop() {
		agg := saga.Aggregate(c.Run(ctx, branches), saga.DefaultSecondaryMin)
		if agg.Primary == nil {
			b.Fatal("no primary")
		}
	}
}
