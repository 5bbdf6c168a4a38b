package tracer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects the trace exporter.
type Config struct {
	Enabled bool
	// Exporter is "stdout" or "none".
	Exporter    string
	ServiceName string
	InstanceID  string
	// SampleRatio defaults to 1.
	SampleRatio float64
	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

// Provider owns the tracer provider of one server.
type Provider struct {
	enabled  bool
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// New builds a provider. A disabled config yields a no-op provider.
func New(cfg Config) (*Provider, error) {
	exporter := strings.ToLower(cfg.Exporter)
	if !cfg.Enabled || exporter == "none" {
		return &Provider{
			tp:       noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}
	if exporter != "" && exporter != "stdout" {
		return nil, fmt.Errorf("tracer: unsupported exporter %q", cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("tracer: create exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "toolhost"
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if cfg.InstanceID != "" {
		attrs = append(attrs, attribute.String("service.instance.id", cfg.InstanceID))
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(exp),
	)
	return &Provider{enabled: true, tp: tp, shutdown: tp.Shutdown}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// TracerProvider returns the provider for instrumentation.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Propagator returns the W3C trace-context and baggage propagator.
func (p *Provider) Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// InstallGlobal makes p the process-wide provider and propagator.
func (p *Provider) InstallGlobal() {
	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(p.Propagator())
}

// Name identifies the provider as a shutdown hook.
func (p *Provider) Name() string {
	return "tracer"
}

// Shutdown flushes buffered spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.shutdown(ctx); err != nil {
		return fmt.Errorf("tracer: shutdown: %w", err)
	}
	return nil
}
