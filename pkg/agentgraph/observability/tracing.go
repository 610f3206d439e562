package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "agentgraph"

// SpanManager handles span lifecycle for runs, nodes and saga branches.
// Use NewSpanManager for OpenTelemetry or NoopSpanManager when disabled.
type SpanManager interface {
	StartRunSpan(ctx context.Context, graphName, threadID string) (context.Context, trace.Span)
	StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span)
	StartBranchSpan(ctx context.Context, branch string) (context.Context, trace.Span)

	// EndSpanWithError sets the span status from err and ends it.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the recording span in ctx, if any.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager using the global tracer provider.
// The tracer is resolved at call time, so set the provider first.
func NewSpanManager() SpanManager {
	return &otelSpanManager{tracer: otel.Tracer(instrumentationName)}
}

// NewSpanManagerWithProvider returns a SpanManager on an explicit provider.
func NewSpanManagerWithProvider(tp trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: tp.Tracer(instrumentationName)}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, graphName, threadID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agentgraph.run",
		trace.WithAttributes(
			attribute.String("graph.name", graphName),
			attribute.String("thread.id", threadID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agentgraph.node."+nodeID,
		trace.WithAttributes(attribute.String("node.id", nodeID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartBranchSpan(ctx context.Context, branch string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agentgraph.saga.branch",
		trace.WithAttributes(attribute.String("branch.name", branch)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError completes a span, recording err if non-nil.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
