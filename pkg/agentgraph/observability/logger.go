// Package observability holds the engine's logging helpers and its
// OpenTelemetry metrics and tracing. Every feature has a no-op form so the
// engine can call it unconditionally.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns logger with thread_id, node_id and attempt attached.
func EnrichLogger(logger *slog.Logger, threadID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
	)
}

// LogRunStart logs the start of a run. resumedFrom is empty for fresh runs.
func LogRunStart(logger *slog.Logger, threadID, graph, resumedFrom string) {
	if logger == nil {
		return
	}
	attrs := []any{slog.String("thread_id", threadID), slog.String("graph", graph)}
	if resumedFrom != "" {
		attrs = append(attrs, slog.String("resumed_from", resumedFrom))
	}
	logger.Info("graph run starting", attrs...)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, threadID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("graph run completed",
		slog.String("thread_id", threadID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs a run that ended with an error.
func LogRunError(logger *slog.Logger, threadID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("graph run failed",
		slog.String("thread_id", threadID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting", slog.String("node_id", nodeID))
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs a node failure that ended the run.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogNodeFailureCaptured logs a node failure recorded into state for the
// router to handle.
func LogNodeFailureCaptured(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("node failure captured",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs a checkpoint write.
func LogCheckpoint(logger *slog.Logger, nodeID string, sequence int64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int64("sequence_no", sequence),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs a non-fatal checkpoint failure. It always logs,
// falling back to the default logger, because a lost checkpoint silently
// disables crash recovery for that step.
func LogCheckpointError(logger *slog.Logger, nodeID string, op string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation returns a function reporting elapsed milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
