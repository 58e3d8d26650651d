package otel

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func TestStartReloadSpanRecordsAttributes(t *testing.T) {
	recorder := InstallSpanRecorder(t)

	ctx, span := StartReloadSpan(context.Background(), "/srv/a.yaml", "watch", attribute.Int(AttrTargets, 2))
	RecordSpanEvent(ctx, "target.merged", attribute.String(AttrModule, "./a"))
	EndSpan(span, nil)

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	data := ended[0]
	if data.Name() != ReloadSpanName {
		t.Fatalf("expected span %q, got %q", ReloadSpanName, data.Name())
	}
	attrs := SpanAttributes(data.Attributes())
	if attrs[AttrPath] != "/srv/a.yaml" || attrs[AttrTrigger] != "watch" || attrs[AttrTargets] != "2" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if len(data.Events()) != 1 || data.Events()[0].Name != "target.merged" {
		t.Fatalf("expected target.merged event, got %v", data.Events())
	}
	if data.Status().Code != codes.Ok {
		t.Fatalf("expected ok status, got %v", data.Status())
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	recorder := InstallSpanRecorder(t)

	_, span := StartReloadSpan(context.Background(), "/srv/b.yaml", "manual")
	EndSpan(span, errors.New("decode failed"))

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", ended[0].Status())
	}
}

func TestRecordSpanEventWithoutSpanIsNoop(t *testing.T) {
	RecordSpanEvent(context.Background(), "ignored")
}
