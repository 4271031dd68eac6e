package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled.
type NoopMetrics struct{}

// RecordSubmitted implements MetricsRecorder.
func (NoopMetrics) RecordSubmitted(context.Context, string, string) {}

// RecordFiltered implements MetricsRecorder.
func (NoopMetrics) RecordFiltered(context.Context, string) {}

// RecordDeduplicated implements MetricsRecorder.
func (NoopMetrics) RecordDeduplicated(context.Context, string) {}

// RecordEventCompleted implements MetricsRecorder.
func (NoopMetrics) RecordEventCompleted(context.Context, string, string) {}

// RecordEventFailed implements MetricsRecorder.
func (NoopMetrics) RecordEventFailed(context.Context, string, string) {}

// RecordHandlerLatency implements MetricsRecorder.
func (NoopMetrics) RecordHandlerLatency(context.Context, string, time.Duration, error) {}

// RecordRecovery implements MetricsRecorder.
func (NoopMetrics) RecordRecovery(context.Context, int) {}

// NoopSpanManager is a SpanManager that produces non-recording spans.
// Use when tracing is disabled.
type NoopSpanManager struct{}

var noopTracer = noop.NewTracerProvider().Tracer("eventpipe")

// StartSubmitSpan implements SpanManager.
func (NoopSpanManager) StartSubmitSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, "eventpipe.submit")
}

// StartHandleSpan implements SpanManager.
func (NoopSpanManager) StartHandleSpan(ctx context.Context, _ *event.Event) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, "eventpipe.handle")
}

// EndSpanWithError implements SpanManager.
func (NoopSpanManager) EndSpanWithError(span trace.Span, _ error) {
	if span != nil {
		span.End()
	}
}
