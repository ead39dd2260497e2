package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return exporter, NewOTelEmitter(otel.Tracer("test"))
}

// TestOTelEmitter_Emit verifies one span per event with standard
// attributes.
func TestOTelEmitter_Emit(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(NodeStatusEvent("wf-1", "n1", NodeRunning, ""))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != "node-status" {
		t.Errorf("span name = %q, want %q", span.Name, "node-status")
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["weft.workflow_id"]; got != "wf-1" {
		t.Errorf("workflow_id = %v, want %q", got, "wf-1")
	}
	if got := attrs["weft.node_id"]; got != "n1" {
		t.Errorf("node_id = %v, want %q", got, "n1")
	}
	if got := attrs["weft.status"]; got != "running" {
		t.Errorf("status = %v, want %q", got, "running")
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

// TestOTelEmitter_ErrorStatus verifies error events mark the span.
func TestOTelEmitter_ErrorStatus(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(NodeStatusEvent("wf-1", "n1", NodeError, "render failed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", span.Status.Code)
	}
	if span.Status.Description != "render failed" {
		t.Errorf("unexpected status description: %q", span.Status.Description)
	}
	if len(span.Events) == 0 {
		t.Error("expected recorded error event on span")
	}
}

// TestOTelEmitter_ProgressAttributes verifies progress payload mapping.
func TestOTelEmitter_ProgressAttributes(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(ProgressEvent("wf-1", "n1", 65, "upscaling"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attributeMap(spans[0].Attributes)

	if got := attrs["weft.progress"]; got != float64(65) {
		t.Errorf("progress = %v, want 65", got)
	}
	if got := attrs["weft.message"]; got != "upscaling" {
		t.Errorf("message = %v, want %q", got, "upscaling")
	}
}

// TestOTelEmitter_Flush verifies flushing the provider succeeds.
func TestOTelEmitter_Flush(t *testing.T) {
	_, emitter := newTestTracer(t)

	if err := emitter.Flush(context.Background()); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{})
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
