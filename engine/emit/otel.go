package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating one OpenTelemetry span per
// event.
//
// Each span carries:
//   - Name: the event channel (node-status, edge-status, progress)
//   - Attributes: workflow id, node/edge id, status, progress, message
//   - Status: error when the event carries an error message
//
// Events are points in time, so spans are ended immediately; the batch
// span processor handles efficient export.
//
// Usage:
//
//	tracer := otel.Tracer("weft")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter producing spans through tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and ends a span describing the event.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Channel))
	defer span.End()

	span.SetAttributes(
		attribute.String("weft.workflow_id", event.WorkflowID),
	)
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("weft.node_id", event.NodeID))
	}
	if event.EdgeID != "" {
		span.SetAttributes(attribute.String("weft.edge_id", event.EdgeID))
	}
	if event.Status != "" {
		span.SetAttributes(attribute.String("weft.status", event.Status))
	}
	if event.Channel == ChannelProgress {
		span.SetAttributes(attribute.Float64("weft.progress", event.Progress))
	}
	if event.Message != "" {
		span.SetAttributes(attribute.String("weft.message", event.Message))
	}

	if event.ErrorMessage != "" {
		span.SetStatus(codes.Error, event.ErrorMessage)
		span.RecordError(fmt.Errorf("%s", event.ErrorMessage))
	}
}

// Flush forces export of pending spans. Call before shutdown so buffered
// spans reach the backend.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}

	// Provider doesn't support flushing (e.g., noop provider)
	return nil
}
