// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LogExporter writes finished spans to a zap logger. It lets a terminal
// program keep traces in its log file without running a collector.
type LogExporter struct {
	logger *zap.Logger
}

// NewLogExporter creates a LogExporter.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger.With(zap.String("component", "trace"))}
}

// ExportSpans logs each span as one debug line.
func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := []zap.Field{
			zap.String("span", span.Name()),
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
			zap.Duration("duration", span.EndTime().Sub(span.StartTime())),
			zap.String("status", span.Status().Code.String()),
		}
		if span.Parent().IsValid() {
			fields = append(fields, zap.String("parent_id", span.Parent().SpanID().String()))
		}
		if desc := span.Status().Description; desc != "" {
			fields = append(fields, zap.String("status_description", desc))
		}
		for _, kv := range span.Attributes() {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		e.logger.Debug("span", fields...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}

// NewTracerProvider returns a provider that logs spans through logger,
// or the global provider with a no-op shutdown when enabled is false.
func NewTracerProvider(enabled bool, logger *zap.Logger) (trace.TracerProvider, func(context.Context) error) {
	if !enabled {
		return nil, func(context.Context) error { return nil }
	}

	res := resource.NewSchemaless(attribute.String("service.name", "routerchat"))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(NewLogExporter(logger))),
		sdktrace.WithResource(res),
	)
	return tp, tp.Shutdown
}
