package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for audit processing.
	TracerName = "tala"
)

// Span attribute keys
const (
	AttrRunID      = "run_id"
	AttrSource     = "source"
	AttrRows       = "rows"
	AttrRejected   = "rejected"
	AttrAdvisories = "advisories"
	AttrMeetings   = "meetings"
	AttrSessions   = "sessions"
	AttrPolicy     = "policy"
	AttrErrorCode  = "error_code"
	AttrLine       = "line"
	AttrReason     = "reason"
)

// Span event names
const (
	EventRowRejected = "row_rejected"
)

// Span names
const (
	SpanProcessSource = "tala.process_source"
	SpanAnalyze       = "tala.analyze_disconnects"
)

// Tracer provides tracing for audit processing. Spans go to the global
// provider, which drops them unless the embedding program installs one.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartSourceSpan starts a root span for processing one input source.
func (t *Tracer) StartSourceSpan(ctx context.Context, runID, source string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, SpanProcessSource,
		trace.WithAttributes(
			attribute.String(AttrSource, source),
		),
	)
	if runID != "" {
		span.SetAttributes(attribute.String(AttrRunID, runID))
	}
	return ctx, span
}

// StartAnalyzeSpan starts a span for a disconnection analysis.
func (t *Tracer) StartAnalyzeSpan(ctx context.Context, policy string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAnalyze,
		trace.WithAttributes(
			attribute.String(AttrPolicy, policy),
		),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SpanHelperFromContext returns a helper for the span carried by ctx.
func SpanHelperFromContext(ctx context.Context) *SpanHelper {
	return NewSpanHelper(trace.SpanFromContext(ctx))
}

// SetSourceResult sets the row counts of a processed source.
func (h *SpanHelper) SetSourceResult(rows, rejected, advisories, meetings, sessions int) {
	h.span.SetAttributes(
		attribute.Int(AttrRows, rows),
		attribute.Int(AttrRejected, rejected),
		attribute.Int(AttrAdvisories, advisories),
		attribute.Int(AttrMeetings, meetings),
		attribute.Int(AttrSessions, sessions),
	)
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, code string) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(attribute.String(AttrErrorCode, code))
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RowRejected records a rejected row as a span event.
func (h *SpanHelper) RowRejected(line int, code, reason string) {
	h.AddEvent(EventRowRejected,
		attribute.Int(AttrLine, line),
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrReason, reason),
	)
}
