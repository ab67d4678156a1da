// Package observability provides OpenTelemetry tracing for nebula-csv reads.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by every nebula-csv span.
const InstrumentationName = "github.com/ajitpratap0/nebula-csv"

// Tracer returns the tracer from the global provider. Until Initialize (or
// any other provider setup) runs, it is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span named after the operation.
func StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, operation, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Trace runs fn inside a span and records its duration and error.
func Trace(ctx context.Context, operation string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := StartSpan(ctx, operation, attrs...)
	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ns", time.Since(start).Nanoseconds()))
	EndSpan(span, err)
	return err
}

// getStatus returns the status string used in span attributes.
func getStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// TraceBatch traces the production of one batch of the given size.
func TraceBatch(ctx context.Context, source string, index int, fn func(ctx context.Context) (int, error)) error {
	ctx, span := StartSpan(ctx, "csv.batch",
		attribute.String("source", source),
		attribute.Int("batch.index", index))
	start := time.Now()
	rows, err := fn(ctx)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.Int("batch.rows", rows),
		attribute.String("status", getStatus(err)))
	if err == nil && duration > 0 {
		span.SetAttributes(attribute.Float64("batch.throughput", float64(rows)/duration.Seconds()))
	}
	EndSpan(span, err)
	return err
}
