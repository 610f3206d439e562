package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink aggregates cost events into Prometheus metrics.
type PrometheusSink struct {
	tokens         *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	tierExecutions *prometheus.CounterVec
}

// NewPrometheusSink registers the cost metrics with reg under namespace.
// A nil reg uses the default registerer.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusSink{
		tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens consumed by workflow nodes",
			},
			[]string{"workflow_type", "node", "direction"}, // direction: in, out
		),
		nodeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Workflow node duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"workflow_type", "node"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Completed workflow runs",
			},
			[]string{"workflow_type", "success"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Workflow run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"workflow_type"},
		),
		tierExecutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tier_executions_total",
				Help:      "Runs by highest model tier executed",
			},
			[]string{"workflow_type", "tier"},
		),
	}
}

// Emit implements Sink.
func (s *PrometheusSink) Emit(_ context.Context, evt CostEvent) error {
	wt := string(evt.WorkflowType)
	seconds := float64(evt.DurationMs) / 1000

	if evt.Kind == KindRun {
		s.runs.WithLabelValues(wt, strconv.FormatBool(evt.Success)).Inc()
		s.runDuration.WithLabelValues(wt).Observe(seconds)
		tier := evt.TierExecuted
		if tier == TierNone {
			tier = "none"
		}
		s.tierExecutions.WithLabelValues(wt, tier).Inc()
		return nil
	}

	s.nodeDuration.WithLabelValues(wt, evt.Node).Observe(seconds)
	if evt.TokensIn > 0 {
		s.tokens.WithLabelValues(wt, evt.Node, "in").Add(float64(evt.TokensIn))
	}
	if evt.TokensOut > 0 {
		s.tokens.WithLabelValues(wt, evt.Node, "out").Add(float64(evt.TokensOut))
	}
	return nil
}
