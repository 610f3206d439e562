package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder for OpenTelemetry or NoopMetrics when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution. err is the failure the
	// node produced, whether it ended the run or was captured into state.
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)

	// RecordGraphRun records a finished run.
	RecordGraphRun(ctx context.Context, graph string, success bool, duration time.Duration)

	// RecordCheckpoint records a checkpoint write.
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)

	// RecordCheckpointFailure records a checkpoint operation that failed.
	RecordCheckpointFailure(ctx context.Context, op string)

	// RecordResume records a run continued from a checkpoint.
	RecordResume(ctx context.Context, graph string)
}

type otelMetrics struct {
	nodeExecutions     metric.Int64Counter
	nodeLatency        metric.Float64Histogram
	nodeErrors         metric.Int64Counter
	graphRuns          metric.Int64Counter
	graphLatency       metric.Float64Histogram
	checkpointSize     metric.Int64Histogram
	checkpointFailures metric.Int64Counter
	resumes            metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.Meter("agentgraph"))
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	var (
		m   otelMetrics
		err error
	)

	if m.nodeExecutions, err = meter.Int64Counter("agentgraph.node.executions",
		metric.WithDescription("Number of node executions")); err != nil {
		return nil, err
	}
	if m.nodeLatency, err = meter.Float64Histogram("agentgraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.nodeErrors, err = meter.Int64Counter("agentgraph.node.errors",
		metric.WithDescription("Number of failed node executions")); err != nil {
		return nil, err
	}
	if m.graphRuns, err = meter.Int64Counter("agentgraph.graph.runs",
		metric.WithDescription("Number of graph runs")); err != nil {
		return nil, err
	}
	if m.graphLatency, err = meter.Float64Histogram("agentgraph.graph.latency_ms",
		metric.WithDescription("Graph run latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.checkpointSize, err = meter.Int64Histogram("agentgraph.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.checkpointFailures, err = meter.Int64Counter("agentgraph.checkpoint.failures",
		metric.WithDescription("Number of failed checkpoint operations")); err != nil {
		return nil, err
	}
	if m.resumes, err = meter.Int64Counter("agentgraph.graph.resumes",
		metric.WithDescription("Number of runs continued from a checkpoint")); err != nil {
		return nil, err
	}

	return &m, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by the global OTel
// meter provider, or a no-op recorder if instrument creation fails.
// Configure the provider (otel.SetMeterProvider) before the first call.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderWithMeter builds a recorder on an explicit meter.
func NewMetricsRecorderWithMeter(meter metric.Meter) (MetricsRecorder, error) {
	m, err := newOtelMetrics(meter)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))

	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordGraphRun(ctx context.Context, graph string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("graph", graph),
		attribute.Bool("success", success),
	)
	m.graphRuns.Add(ctx, 1, attrs)
	m.graphLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

func (m *otelMetrics) RecordCheckpointFailure(ctx context.Context, op string) {
	m.checkpointFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

func (m *otelMetrics) RecordResume(ctx context.Context, graph string) {
	m.resumes.Add(ctx, 1, metric.WithAttributes(attribute.String("graph", graph)))
}
