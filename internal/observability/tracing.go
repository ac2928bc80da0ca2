package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/accesspoint/gateway"

// StartSpan opens a span around one named unit of work. Tracing is optional: when no TracerProvider has
// been configured, otel's no-op implementation makes this a cheap pass-through.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}
