package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestRecorder(t *testing.T) (MetricsRecorder, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec, err := NewMetricsRecorderWithMeter(provider.Meter("test"))
	require.NoError(t, err)
	return rec, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, m *metricdata.Metrics) int64 {
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_NodeExecutions(t *testing.T) {
	rec, reader := newTestRecorder(t)
	ctx := context.Background()

	rec.RecordNodeExecution(ctx, "screen", 20*time.Millisecond, nil)
	rec.RecordNodeExecution(ctx, "diagnose", 50*time.Millisecond, errors.New("all models exhausted"))

	assert.Equal(t, int64(2), sumOf(t, findMetric(t, reader, "agentgraph.node.executions")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(t, reader, "agentgraph.node.errors")))
	assert.NotNil(t, findMetric(t, reader, "agentgraph.node.latency_ms"))
}

func TestMetrics_RunsCheckpointsResumes(t *testing.T) {
	rec, reader := newTestRecorder(t)
	ctx := context.Background()

	rec.RecordGraphRun(ctx, "tiered_vision", true, time.Second)
	rec.RecordCheckpoint(ctx, "screen", 512)
	rec.RecordCheckpointFailure(ctx, "save")
	rec.RecordCheckpointFailure(ctx, "load")
	rec.RecordResume(ctx, "tiered_vision")

	assert.Equal(t, int64(1), sumOf(t, findMetric(t, reader, "agentgraph.graph.runs")))
	assert.Equal(t, int64(2), sumOf(t, findMetric(t, reader, "agentgraph.checkpoint.failures")))
	assert.Equal(t, int64(1), sumOf(t, findMetric(t, reader, "agentgraph.graph.resumes")))
	assert.NotNil(t, findMetric(t, reader, "agentgraph.checkpoint.size_bytes"))
}

func TestSpanManager_RecordsHierarchy(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	spans := NewSpanManagerWithProvider(tp)

	ctx, run := spans.StartRunSpan(context.Background(), "explorer", "agent:1")
	nodeCtx, node := spans.StartNodeSpan(ctx, "saga")
	_, branch := spans.StartBranchSpan(nodeCtx, "soil")
	spans.EndSpanWithError(branch, errors.New("timed out"))
	spans.AddSpanEvent(nodeCtx, "aggregated")
	spans.EndSpanWithError(node, nil)
	spans.EndSpanWithError(run, nil)

	ended := sr.Ended()
	require.Len(t, ended, 3)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}

	assert.Equal(t, codes.Error, byName["agentgraph.saga.branch"].Status().Code)
	assert.Equal(t, codes.Ok, byName["agentgraph.node.saga"].Status().Code)
	assert.Equal(t, byName["agentgraph.node.saga"].SpanContext().SpanID(), byName["agentgraph.saga.branch"].Parent().SpanID())
	assert.Equal(t, byName["agentgraph.run"].SpanContext().SpanID(), byName["agentgraph.node.saga"].Parent().SpanID())
	require.Len(t, byName["agentgraph.node.saga"].Events(), 1)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()

	var m MetricsRecorder = NoopMetrics{}
	m.RecordNodeExecution(ctx, "a", time.Millisecond, nil)
	m.RecordGraphRun(ctx, "g", false, time.Millisecond)

	var s SpanManager = NoopSpanManager{}
	got, span := s.StartRunSpan(ctx, "g", "t")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())
	s.EndSpanWithError(span, errors.New("ignored"))
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	LogRunStart(logger, "agent:1", "generator", "")
	LogNodeFailureCaptured(logger, "generate_report", errors.New("all models exhausted"))
	LogCheckpointError(logger, "prioritize", "save", errors.New("redis down"))
	LogRunComplete(logger, "agent:1", 12, 6)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "generate_report", rec["node_id"])

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	assert.Equal(t, "checkpoint failed", rec["msg"])
	assert.Equal(t, "save", rec["operation"])

	// nil loggers are tolerated
	LogRunStart(nil, "t", "g", "")
	LogNodeError(nil, "n", errors.New("x"))
	assert.Nil(t, EnrichLogger(nil, "t", "n", 1))
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(4))
}
