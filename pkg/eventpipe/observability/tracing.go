package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yapp-web3/eventpipe/pkg/eventpipe/event"
)

// tracer is the eventpipe tracer instance, using the global provider.
var tracer = otel.Tracer("eventpipe")

// SpanManager handles trace span lifecycle around pipeline operations.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartSubmitSpan starts a span covering filter, dedup and enqueue of
	// one occurrence.
	StartSubmitSpan(ctx context.Context, eventType, source string) (context.Context, trace.Span)

	// StartHandleSpan starts a span covering one handler dispatch.
	StartHandleSpan(ctx context.Context, evt *event.Event) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// Configure the global tracer provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartSubmitSpan starts a span for one occurrence submission.
func (m *otelSpanManager) StartSubmitSpan(ctx context.Context, eventType, source string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventpipe.submit",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("event.source", source),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartHandleSpan starts a span for one handler dispatch.
func (m *otelSpanManager) StartHandleSpan(ctx context.Context, evt *event.Event) (context.Context, trace.Span) {
	return tracer.Start(ctx, "eventpipe.handle",
		trace.WithAttributes(
			attribute.String("event.id", evt.ID),
			attribute.String("event.type", evt.EventType),
			attribute.String("event.lane", evt.Priority.String()),
			attribute.Int("event.attempt", evt.RetryCount),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
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
