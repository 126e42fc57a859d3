package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan opens an internal child span of the span carried by ctx.
// The child is created from the parent's provider, so it is recorded exactly
// when its parent is. Without a parent the global provider is used.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracerFor(ctx).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// MarkError tags span as failed with err.
func MarkError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.SetAttributes(
		attribute.Bool("error", true),
		attribute.String("error.message", err.Error()),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the hex trace id of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func tracerFor(ctx context.Context) trace.Tracer {
	parent := trace.SpanFromContext(ctx)
	if parent.SpanContext().IsValid() {
		return parent.TracerProvider().Tracer(instrumentationName)
	}
	return otel.GetTracerProvider().Tracer(instrumentationName)
}
