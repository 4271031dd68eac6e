// Package observability provides structured logging, metrics and tracing
// for the event pipeline.
//
// Logging uses slog (Go stdlib); metrics and tracing use OpenTelemetry.
// Everything is opt-in: nil loggers and the no-op implementations disable
// the corresponding output entirely.
package observability

import (
	"log/slog"
)

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with event_id, lane and attempt fields.
func EnrichLogger(logger *slog.Logger, eventID, lane string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("lane", lane),
		slog.Int("attempt", attempt),
	)
}

// LogSubmitted logs acceptance of an occurrence into the queue.
func LogSubmitted(logger *slog.Logger, eventID, eventType, lane string) {
	if logger == nil {
		return
	}
	logger.Info("event enqueued",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("lane", lane),
	)
}

// LogFiltered logs a filter rejection. This is expected control flow, so
// it stays at debug level.
func LogFiltered(logger *slog.Logger, eventType string) {
	if logger == nil {
		return
	}
	logger.Debug("occurrence rejected by trigger filter",
		slog.String("event_type", eventType),
	)
}

// LogDeduplicated logs a dropped duplicate occurrence.
func LogDeduplicated(logger *slog.Logger, eventType, fingerprint string) {
	if logger == nil {
		return
	}
	logger.Debug("duplicate occurrence dropped",
		slog.String("event_type", eventType),
		slog.String("fingerprint", fingerprint),
	)
}

// LogDispatch logs the hand-off of a popped event to its handler.
func LogDispatch(logger *slog.Logger, eventType string) {
	if logger == nil {
		return
	}
	logger.Info("processing event", slog.String("event_type", eventType))
}

// LogCompleted logs successful event completion.
func LogCompleted(logger *slog.Logger, eventType string) {
	if logger == nil {
		return
	}
	logger.Info("event completed", slog.String("event_type", eventType))
}

// LogHandlerFailure logs a handler error; the event takes the retry path.
func LogHandlerFailure(logger *slog.Logger, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event handler failed",
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogDeadLetter logs an event exhausting its retry budget.
func LogDeadLetter(logger *slog.Logger, eventID, eventType string, retryCount int) {
	if logger == nil {
		return
	}
	logger.Warn("event moved to dead letter queue",
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.Int("retry_count", retryCount),
	)
}

// LogRecovery logs startup reclamation of stranded events.
func LogRecovery(logger *slog.Logger, reclaimed int) {
	if logger == nil {
		return
	}
	logger.Info("recovered stranded events", slog.Int("reclaimed", reclaimed))
}

// LogBackendError logs a storage-layer failure (non-fatal; caller retries).
func LogBackendError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("queue backend error", slog.String("error", err.Error()))
}
