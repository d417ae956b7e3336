package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"labexec/internal/core"
)

const tracerName = "labexec"

// Common attribute keys for command spans.
var (
	AttrOperation = attribute.Key("labexec.operation")
)

// Tracer starts one OpenTelemetry span per command.
type Tracer struct {
	tracer trace.Tracer
}

var _ core.Tracer = (*Tracer)(nil)

// NewTracer uses the global TracerProvider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.Tracer(tracerName))
}

// NewTracerFrom wraps a specific trace.Tracer.
func NewTracerFrom(t trace.Tracer) *Tracer {
	return &Tracer{tracer: t}
}

// Start implements core.Tracer.
func (t *Tracer) Start(ctx context.Context, operation string) (context.Context, core.TraceSpan) {
	ctx, span := t.tracer.Start(ctx, "labexec."+operation,
		trace.WithAttributes(AttrOperation.String(operation)),
	)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
