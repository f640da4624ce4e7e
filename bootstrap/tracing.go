package bootstrap

import (
	"context"

	"vigil/config"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// logSpanExporter writes finished spans to the debug log.
type logSpanExporter struct {
	logger *zap.SugaredLogger
}

func (e *logSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := []interface{}{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"duration", s.EndTime().Sub(s.StartTime()),
			"status", s.Status().Code.String(),
		}
		for _, kv := range s.Attributes() {
			fields = append(fields, string(kv.Key), kv.Value.AsInterface())
		}
		e.logger.Debugw("Span finished", fields...)
	}
	return nil
}

func (e *logSpanExporter) Shutdown(context.Context) error { return nil }

// InitTracing returns the tracer provider for the correlation engine and the
// narrative generator, and its shutdown function. With tracing disabled it
// returns a no-op provider.
func InitTracing(cfg *config.Config, sugar *zap.SugaredLogger) (trace.TracerProvider, func(context.Context) error) {
	if !cfg.Tracing.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
		sdktrace.WithBatcher(&logSpanExporter{logger: sugar.Named("trace")}),
	)
	sugar.Infow("Tracing enabled", "sample_ratio", cfg.Tracing.SampleRatio)
	return tp, tp.Shutdown
}
