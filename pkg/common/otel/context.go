package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const tracerKey ctxKey = 1

const emptyTraceID = "00000000000000000000000000000000"

// InjectTracing stores the tracer in the context so handlers further down the
// chain can start child spans without threading it through every signature.
func InjectTracing(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// TracerFromContext returns the tracer stored by InjectTracing, or a tracer
// from the span's provider when none was stored.
func TracerFromContext(ctx context.Context) trace.Tracer {
	if t, ok := ctx.Value(tracerKey).(trace.Tracer); ok {
		return t
	}
	return trace.SpanFromContext(ctx).TracerProvider().Tracer("stc-sync")
}

// GetTraceID returns the trace id from the current span context.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return emptyTraceID
}
