package task

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	traceScopeTask = "warden.task"

	traceSpanRun    = "warden.task.run"
	traceSpanTurn   = "warden.task.turn"
	traceSpanChat   = "warden.llm.chat"
	traceSpanAction = "warden.task.action"

	traceAttrRunID  = "warden.run_id"
	traceAttrTurn   = "warden.turn"
	traceAttrStatus = "warden.status"
	traceAttrKind   = "warden.action_kind"
	traceAttrModel  = "warden.llm.model"
)

func (a *Agent) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	spanAttrs := make([]attribute.KeyValue, 0, len(attrs)+1)
	if a.runID != "" {
		spanAttrs = append(spanAttrs, attribute.String(traceAttrRunID, a.runID))
	}
	spanAttrs = append(spanAttrs, attrs...)
	return otel.Tracer(traceScopeTask).Start(ctx, name, trace.WithAttributes(spanAttrs...))
}

func markSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(traceAttrStatus, "error"))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(traceAttrStatus, "success"))
}
