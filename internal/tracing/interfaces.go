package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracingInterface is the span factory handed to every component that traces.
type TracingInterface interface {
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}
