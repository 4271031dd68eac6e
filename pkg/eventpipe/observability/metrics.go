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

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordSubmitted counts an occurrence accepted into the queue.
	RecordSubmitted(ctx context.Context, source, lane string)

	// RecordFiltered counts an occurrence rejected by the trigger filter.
	RecordFiltered(ctx context.Context, eventType string)

	// RecordDeduplicated counts an occurrence dropped as a duplicate.
	RecordDeduplicated(ctx context.Context, eventType string)

	// RecordEventCompleted counts a successfully handled event.
	RecordEventCompleted(ctx context.Context, eventType, lane string)

	// RecordEventFailed counts a handler failure (retry or dead-letter).
	RecordEventFailed(ctx context.Context, eventType, lane string)

	// RecordHandlerLatency records handler dispatch duration.
	RecordHandlerLatency(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordRecovery records the reclaim count from a startup recovery.
	RecordRecovery(ctx context.Context, reclaimed int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	submitted      metric.Int64Counter
	filtered       metric.Int64Counter
	deduplicated   metric.Int64Counter
	completed      metric.Int64Counter
	failed         metric.Int64Counter
	handlerLatency metric.Float64Histogram
	recovered      metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventpipe")

	submitted, err := meter.Int64Counter("eventpipe.occurrences.submitted",
		metric.WithDescription("Occurrences accepted into the queue"),
	)
	if err != nil {
		return nil, err
	}

	filtered, err := meter.Int64Counter("eventpipe.occurrences.filtered",
		metric.WithDescription("Occurrences rejected by the trigger filter"),
	)
	if err != nil {
		return nil, err
	}

	deduplicated, err := meter.Int64Counter("eventpipe.occurrences.deduplicated",
		metric.WithDescription("Occurrences dropped as duplicates within the dedup window"),
	)
	if err != nil {
		return nil, err
	}

	completed, err := meter.Int64Counter("eventpipe.events.completed",
		metric.WithDescription("Events handled successfully"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter("eventpipe.events.failed",
		metric.WithDescription("Handler failures, including retries and dead-letters"),
	)
	if err != nil {
		return nil, err
	}

	handlerLatency, err := meter.Float64Histogram("eventpipe.handler.latency_ms",
		metric.WithDescription("Handler dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	recovered, err := meter.Int64Counter("eventpipe.recovery.reclaimed",
		metric.WithDescription("Events reclaimed from the processing set at startup"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		submitted:      submitted,
		filtered:       filtered,
		deduplicated:   deduplicated,
		completed:      completed,
		failed:         failed,
		handlerLatency: handlerLatency,
		recovered:      recovered,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordSubmitted implements MetricsRecorder.
func (m *otelMetrics) RecordSubmitted(ctx context.Context, source, lane string) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("lane", lane),
	))
}

// RecordFiltered implements MetricsRecorder.
func (m *otelMetrics) RecordFiltered(ctx context.Context, eventType string) {
	m.filtered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordDeduplicated implements MetricsRecorder.
func (m *otelMetrics) RecordDeduplicated(ctx context.Context, eventType string) {
	m.deduplicated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordEventCompleted implements MetricsRecorder.
func (m *otelMetrics) RecordEventCompleted(ctx context.Context, eventType, lane string) {
	m.completed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("lane", lane),
	))
}

// RecordEventFailed implements MetricsRecorder.
func (m *otelMetrics) RecordEventFailed(ctx context.Context, eventType, lane string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("lane", lane),
	))
}

// RecordHandlerLatency implements MetricsRecorder.
func (m *otelMetrics) RecordHandlerLatency(ctx context.Context, eventType string, duration time.Duration, err error) {
	m.handlerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Bool("success", err == nil),
	))
}

// RecordRecovery implements MetricsRecorder.
func (m *otelMetrics) RecordRecovery(ctx context.Context, reclaimed int) {
	m.recovered.Add(ctx, int64(reclaimed))
}
