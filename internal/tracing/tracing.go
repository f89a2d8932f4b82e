// Package tracing sets up the OpenTelemetry tracer provider of taskflow.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "taskflow"

// ProviderConfig is the configuration of the tracer provider.
type ProviderConfig struct {
	// Endpoint is the OTLP HTTP collector (host:port), empty disables tracing.
	Endpoint string
	Insecure bool
	// SampleRate is the ratio of sampled root spans, 0 means all.
	SampleRate     float64
	ServiceVersion string
	// Exporter overrides the OTLP exporter.
	Exporter sdktrace.SpanExporter
}

func (c *ProviderConfig) defaults() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be between 0 and 1")
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "dev"
	}
	c.Endpoint = strings.TrimPrefix(strings.TrimPrefix(c.Endpoint, "https://"), "http://")
	return nil
}

// Provider wraps the tracer provider with its shutdown.
type Provider struct {
	trace.TracerProvider
	flush    func(ctx context.Context) error
	shutdown func(ctx context.Context) error
}

// NewProvider returns the tracer provider and sets it as the global one.
// Without endpoint nor exporter a noop provider is returned.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Endpoint == "" && cfg.Exporter == nil {
		return &Provider{
			TracerProvider: noop.NewTracerProvider(),
			flush:          func(context.Context) error { return nil },
			shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	exporter := cfg.Exporter
	if exporter == nil {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		exporter = exp
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)

	return &Provider{TracerProvider: tp, flush: tp.ForceFlush, shutdown: tp.Shutdown}, nil
}

// ForceFlush exports the pending spans.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.flush(ctx)
}

// Shutdown flushes the pending spans and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
