package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "thermal-memory"

// StartStoreSpan starts a span for a single store operation.
func StartStoreSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
		),
	)
}

// StartMemorySpan starts a span for a service operation on one record.
func StartMemorySpan(ctx context.Context, op, id, triad string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "memory."+op,
		trace.WithAttributes(
			attribute.String("memory.id", id),
			attribute.String("memory.triad", triad),
		),
	)
}

// StartFederationSpan starts a span for publishing one federation event.
func StartFederationSpan(ctx context.Context, id, sourceTriad string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "federation.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("memory.id", id),
			attribute.String("memory.source_triad", sourceTriad),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
