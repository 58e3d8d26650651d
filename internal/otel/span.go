package otel

import (
	"context"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "watchreload/reload"
	ReloadSpanName      = "watchreload.reload"

	AttrPath    = "watchreload.path"
	AttrTrigger = "watchreload.trigger"
	AttrTargets = "watchreload.targets"
	AttrModule  = "watchreload.module"
)

// StartReloadSpan opens a span covering one reload of path. The tracer is
// looked up on every call so a provider installed later is honoured.
func StartReloadSpan(ctx context.Context, path, trigger string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	base := []attribute.KeyValue{
		attribute.String(AttrPath, path),
		attribute.String(AttrTrigger, trigger),
	}
	return otelapi.Tracer(instrumentationName).Start(ctx, ReloadSpanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(base, attrs...)...),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func RecordSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ctx == nil || name == "" {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
