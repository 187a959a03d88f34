package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed and records err. The flowline.error event
// carries the workflow attributes (instance, step) next to the recorded
// error, so the trace backend can group failures per workflow.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("flowline.error", trace.WithAttributes(
		attrs...,
	))
}
