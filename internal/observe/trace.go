package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/xfspeech/pkg/speech"
)

const tracerName = "github.com/MrWong99/xfspeech"

// Span attributes set on upstream attempt spans.
const (
	AttrKind       = attribute.Key("speech.kind")
	AttrHost       = attribute.Key("speech.host")
	AttrErrorClass = attribute.Key("speech.error_class")
)

// Tracer returns the tracer of the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartUpstreamSpan starts a client span for one attempt of kind against
// host. End it with [EndSpan].
func StartUpstreamSpan(ctx context.Context, kind speech.Kind, host string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream "+string(kind),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrKind.String(string(kind)), AttrHost.String(host)),
	)
}

// EndSpan tags span with the failure class of err and ends it.
func EndSpan(span trace.Span, err error) {
	span.SetAttributes(AttrErrorClass.String(speech.Classify(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type correlationKey struct{}

// WithCorrelationID attaches id for requests that carry no trace.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the trace ID of the span in ctx, falling back to an
// ID attached with [WithCorrelationID], or "" without either. The gateway
// echoes it in the X-Correlation-ID header and attaches it to published
// events.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Logger returns base with trace_id and span_id of the span in ctx. A nil
// base means [slog.Default].
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
