package operations

import (
	"context"
	"fmt"
	"time"

	"dvfcli/internal/infrastructure"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "dvfcli.operation"
)

// OperationTracer provides OpenTelemetry instrumentation for pipeline runs. A nil
// *OperationTracer traces nothing.
type OperationTracer struct {
	tracer          trace.Tracer
	businessMetrics *infrastructure.BusinessMetrics
}

// NewOperationTracer creates a tracer from the run's providers and metrics.
func NewOperationTracer(providers *infrastructure.OTelProviders, metrics *infrastructure.BusinessMetrics) *OperationTracer {
	tracer := otel.Tracer(TracerName)
	if providers != nil && providers.TracerProvider != nil {
		tracer = providers.TracerProvider.Tracer(TracerName)
	}
	return &OperationTracer{tracer: tracer, businessMetrics: metrics}
}

// Metrics returns the business metrics, possibly nil.
func (pt *OperationTracer) Metrics() *infrastructure.BusinessMetrics {
	if pt == nil {
		return nil
	}
	return pt.businessMetrics
}

// TraceOperationExecution creates a span for the entire operation execution
func (pt *OperationTracer) TraceOperationExecution(ctx context.Context, operationID string, req OperationRequest) (context.Context, trace.Span) {
	if pt == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeFull
	}
	ctx, span := pt.tracer.Start(ctx, fmt.Sprintf("operation.execute.%s", mode),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.String("operation.mode", mode),
		),
	)
	infrastructure.RecordActiveOperationChange(ctx, pt.businessMetrics, 1, mode)
	return ctx, span
}

// TraceStageExecution creates a span for one stage
func (pt *OperationTracer) TraceStageExecution(ctx context.Context, operationID, stageID string, attempt int) (context.Context, trace.Span) {
	if pt == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return pt.tracer.Start(ctx, fmt.Sprintf("operation.stage.%s", stageID),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.String("stage.id", stageID),
			attribute.Int("stage.attempt", attempt),
		),
	)
}

// RecordOperationCompletion ends the run span and records run metrics.
func (pt *OperationTracer) RecordOperationCompletion(ctx context.Context, span trace.Span, operationID, mode string, duration time.Duration, err error) {
	if pt == nil {
		return
	}
	if mode == "" {
		mode = ModeFull
	}
	status := "success"
	if err != nil {
		status = "failure"
		infrastructure.RecordError(ctx, err, trace.WithAttributes(
			attribute.String("operation_id", operationID),
			attribute.String("error.type", string(GetErrorType(err))),
		))
		if GetErrorType(err) == ErrorTypeCancellation {
			infrastructure.RecordOperationCancellation(ctx, pt.businessMetrics, mode, "context")
		}
	}
	span.SetAttributes(
		attribute.String("operation.status", status),
		attribute.Float64("operation.duration_seconds", duration.Seconds()),
	)
	infrastructure.RecordOperationMetrics(ctx, pt.businessMetrics, operationID, mode, duration, err == nil, err)
	infrastructure.RecordActiveOperationChange(ctx, pt.businessMetrics, -1, mode)

	if err == nil {
		span.SetStatus(codes.Ok, "operation completed")
	}
	span.End()
}

// RecordStageCompletion ends a stage span and records stage metrics.
func (pt *OperationTracer) RecordStageCompletion(ctx context.Context, span trace.Span, stageID string, duration time.Duration, err error) {
	if pt == nil {
		return
	}
	success := err == nil
	span.SetAttributes(
		attribute.Bool("stage.success", success),
		attribute.Float64("stage.duration_seconds", duration.Seconds()),
	)
	infrastructure.RecordOperationStepMetrics(ctx, pt.businessMetrics, stageID, duration, success)

	if success {
		span.SetStatus(codes.Ok, "stage completed")
	} else {
		infrastructure.RecordError(ctx, err, trace.WithAttributes(
			attribute.String("stage_id", stageID),
			attribute.String("error.type", string(GetErrorType(err))),
		))
	}
	span.End()
}

// RecordStageRows adds the row counts of a stage to its span.
func (pt *OperationTracer) RecordStageRows(ctx context.Context, stageID string, rowsIn, rowsOut int) {
	if pt == nil {
		return
	}
	infrastructure.AddSpanEvent(ctx, "stage.rows", map[string]interface{}{
		"stage_id": stageID,
		"rows_in":  rowsIn,
		"rows_out": rowsOut,
	})
}

// RecordOutput records a written file and its size.
func (pt *OperationTracer) RecordOutput(ctx context.Context, output string, bytes int64) {
	if pt == nil {
		return
	}
	pt.businessMetrics.RecordOutputBytes(ctx, output, bytes)
	infrastructure.AddSpanEvent(ctx, "output.written", map[string]interface{}{
		"output": output,
		"bytes":  bytes,
	})
}
