// Package telemetry wraps the Conversation Orchestrator's turns and
// provider stream rounds in OpenTelemetry spans, exported over OTLP/HTTP.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls where spans go. A zero-value Config disables export
// entirely: New still returns a working no-op tracer.
type Config struct {
	ServiceVersion string
	// Endpoint is the OTLP/HTTP collector address (host:port, no scheme).
	// Empty disables the exporter.
	Endpoint  string
	Insecure  bool
}

// Tracer names spans for snow's own operations: turns, rounds, and tool
// dispatch batches.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a Tracer. When cfg.Endpoint is empty the returned Tracer uses
// the global (no-op by default) TracerProvider, so callers never need to
// branch on whether tracing is configured.
func New(ctx context.Context, cfg Config) (*Tracer, func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer("snow")}, func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("snow"),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer("snow")}, provider.Shutdown, nil
}

// StartTurn opens a span around one Conversation Orchestrator turn.
func (t *Tracer) StartTurn(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(attribute.String("session_id", sessionID)))
}

// StartRound opens a span around one provider stream round.
func (t *Tracer) StartRound(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider.round", trace.WithAttributes(attribute.String("model", model)))
}

// StartToolBatch opens a span around one dispatcher.Dispatch call.
func (t *Tracer) StartToolBatch(ctx context.Context, count int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.dispatch_batch", trace.WithAttributes(attribute.Int("call_count", count)))
}

// End records err (if any) on span and closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
