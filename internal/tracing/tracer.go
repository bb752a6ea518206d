// Package tracing wraps the agent loop's OpenTelemetry spans: one root
// span per run, child spans for each LLM call and tool execution.
package tracing

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps a TracerProvider configured either to export over OTLP/HTTP
// (when an endpoint is configured) or to create-and-drop spans, so the
// instrumentation call sites never need to branch on whether tracing is
// "really" enabled.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a Tracer for serviceName. When endpoint is empty, spans are
// created (so context propagation and span APIs behave identically) but
// never exported anywhere.
func New(ctx context.Context, serviceName, endpoint string) (*Tracer, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		res = resource.Default()
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			slog.Warn("tracing: failed to build OTLP exporter, spans will not be exported", "err", err)
		} else {
			opts = append(opts, sdktrace.WithBatcher(exp))
		}
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

// Shutdown flushes and stops the underlying provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartRun opens the root "agent.run" span for one message processed by
// the agent loop.
func (t *Tracer) StartRun(ctx context.Context, agentID, channel, chatID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("channel", channel),
		attribute.String("chat_id", chatID),
	))
}

// LLMCall records one provider.Chat invocation as a child span.
func (t *Tracer) LLMCall(ctx context.Context, provider, model string, iteration int, fn func(context.Context) error) error {
	if t == nil {
		return fn(ctx)
	}
	ctx, span := t.tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.Int("iteration", iteration),
	))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ToolCall records one tool execution as a child span.
func (t *Tracer) ToolCall(ctx context.Context, name string, fn func(context.Context) error) error {
	if t == nil {
		return fn(ctx)
	}
	ctx, span := t.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// RecordUsage attaches token usage attributes to the current span.
func RecordUsage(span trace.Span, prompt, completion, total int) {
	span.SetAttributes(
		attribute.Int("usage.prompt_tokens", prompt),
		attribute.Int("usage.completion_tokens", completion),
		attribute.Int("usage.total_tokens", total),
	)
}
