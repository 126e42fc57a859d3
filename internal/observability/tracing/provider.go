package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// instrumentationName names the tracers created by this package.
const instrumentationName = "director"

// Config holds tracing configuration.
type Config struct {
	Enabled        bool
	Endpoint       string // OTLP gRPC endpoint (e.g., "otel-collector:4317")
	ServiceName    string
	ServiceVersion string
	SampleRate     float64 // fraction of new traces sampled, 0..1
	Insecure       bool    // plaintext gRPC to the collector
}

// ProviderOption customizes a Provider.
type ProviderOption func(*Provider)

// WithSpanProcessor registers an extra span processor, replacing the OTLP
// exporter. Tests use it with an in-memory recorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) ProviderOption {
	return func(p *Provider) {
		p.processor = sp
	}
}

// Provider owns the process tracer provider.
type Provider struct {
	cfg       Config
	logger    *slog.Logger
	sdk       *sdktrace.TracerProvider
	processor sdktrace.SpanProcessor
}

// NewProvider builds the tracer provider for cfg. Spans are sampled with a
// parent-based ratio sampler so remote sampling decisions are honoured.
// Nothing is exported until Prepare attaches the exporter.
func NewProvider(cfg Config, logger *slog.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg, logger: logger.With(slog.String("component", "tracing"))}
	for _, opt := range opts {
		opt(p)
	}
	if !cfg.Enabled {
		return p
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	p.sdk = sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	return p
}

// TracerProvider returns the provider components should create tracers from.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.sdk == nil {
		return noop.NewTracerProvider()
	}
	return p.sdk
}

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool {
	return p.sdk != nil
}

// Prepare attaches the span exporter and installs the provider and
// propagator as process globals.
func (p *Provider) Prepare(ctx context.Context) error {
	if p.sdk == nil {
		p.logger.Info("tracing disabled")
		return nil
	}

	processor := p.processor
	if processor == nil {
		exporter, err := p.newExporter(ctx)
		if err != nil {
			return err
		}
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	}
	p.sdk.RegisterSpanProcessor(processor)

	otel.SetTracerProvider(p.sdk)
	otel.SetTextMapPropagator(Propagator())

	p.logger.Info("tracing initialized",
		slog.String("endpoint", p.cfg.Endpoint),
		slog.Float64("sample_rate", p.cfg.SampleRate))
	return nil
}

func (p *Provider) newExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if p.cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing enabled but endpoint not configured")
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.Endpoint)}
	if p.cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// Start is a no-op; spans are exported as soon as Prepare returns.
func (p *Provider) Start(ctx context.Context) error {
	return nil
}

// Stop flushes remaining spans and shuts the exporter down.
func (p *Provider) Stop(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	if err := p.sdk.Shutdown(ctx); err != nil {
		p.logger.Error("tracer provider shutdown failed", slog.Any("error", err))
		return err
	}
	p.logger.Info("tracing provider stopped")
	return nil
}

// Propagator reads and writes both W3C trace context and B3 headers.
// When a request carries both, traceparent wins.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader|b3.B3SingleHeader)),
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}
