package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for bulk import operations.
	TracerName = "tradedoc"
)

// Span attribute keys
const (
	AttrStage      = "stage"
	AttrRowID      = "row_id"
	AttrOrderID    = "order_id"
	AttrRowStatus  = "row_status"
	AttrRows       = "rows"
	AttrOperation  = "operation"
	AttrShipmentID = "shipment_id"
	AttrErrorCode  = "error_code"
	AttrRetryable  = "retryable"
)

// Span names
const (
	SpanBatch  = "tradedoc.batch"
	SpanRow    = "tradedoc.row"
	SpanAICall = "tradedoc.ai_call"
	SpanRender = "tradedoc.render"
)

// Tracer provides spans for batch runs, rows and model calls.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartBatchSpan starts a root span for one stage run.
func (t *Tracer) StartBatchSpan(ctx context.Context, stage string, rows int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanBatch,
		trace.WithAttributes(
			attribute.String(AttrStage, stage),
			attribute.Int(AttrRows, rows),
		),
	)
}

// StartRowSpan starts a span for one row.
func (t *Tracer) StartRowSpan(ctx context.Context, stage string, rowID int, orderID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRow,
		trace.WithAttributes(
			attribute.String(AttrStage, stage),
			attribute.Int(AttrRowID, rowID),
			attribute.String(AttrOrderID, orderID),
		),
	)
}

// StartAISpan starts a span for a model call.
func (t *Tracer) StartAISpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAICall,
		trace.WithAttributes(attribute.String(AttrOperation, operation)),
	)
}

// StartRenderSpan starts a span for rendering one invoice.
func (t *Tracer) StartRenderSpan(ctx context.Context, shipmentID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRender,
		trace.WithAttributes(attribute.String(AttrShipmentID, shipmentID)),
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

// SetRowStatus records the row's terminal status.
func (h *SpanHelper) SetRowStatus(status string) {
	h.span.SetAttributes(attribute.String(AttrRowStatus, status))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}
