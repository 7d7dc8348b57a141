package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	otelsemconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/semconv"
)

// ScopeName is the instrumentation scope tendril reports spans and metrics
// under.
const ScopeName = "github.com/aretw0/tendril"

// DefaultServiceName is the service.name resource attribute used when the
// configuration supplies none.
const DefaultServiceName = "tendril"

// Provider owns the process-wide telemetry backend. It starts in no-op mode
// and can be reconfigured any number of times; the Tracer and Meter handles
// it returns stay valid through every reconfiguration.
//
// Initialize, InitializeNoOp and Shutdown serialize on an internal mutex.
// Tracer and Meter never take it: span and instrument creation stays
// lock-free while a reconfiguration is in flight.
type Provider struct {
	mu     sync.Mutex
	logger *slog.Logger

	tracer *TracerDelegate
	meter  *MeterDelegate

	serviceVersion string
	baseURL        string
	processors     []sdktrace.SpanProcessor

	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the structured logger for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithServiceVersion sets the service.version resource attribute reported by
// every configured backend.
func WithServiceVersion(version string) Option {
	return func(p *Provider) {
		p.serviceVersion = version
	}
}

// WithBaseURL sets the public base URL of the observed host, reported as a
// resource attribute so traces link back to it.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithSpanProcessor installs an extra span processor on every backend built
// by Initialize, alongside the exporter's own. Useful for in-process span
// capture.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(p *Provider) {
		p.processors = append(p.processors, sp)
	}
}

// NewProvider creates a Provider in no-op mode.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tracer = newTracerDelegate()
	p.meter = newMeterDelegate()
	return p
}

// Tracer returns the stable tracer handle. Never nil, valid before the first
// Initialize and after the last Shutdown.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the stable meter handle. Never nil.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Registry returns the prometheus registry backing the "prometheus" metrics
// exporter of the current backend, or nil when another exporter is active.
func (p *Provider) Registry() *prometheus.Registry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry
}

// Initialize tears the current backend down (flushing what it buffered) and
// builds a new one from cfg. On failure the provider logs, stays in no-op
// mode and returns the error; the host keeps running unobserved rather than
// not at all.
func (p *Provider) Initialize(ctx context.Context, cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.shutdownLocked(ctx); err != nil {
		p.logger.Warn("shutdown of previous telemetry backend reported errors", "error", err)
	}

	props := cfg.Properties()
	res, err := p.buildResource(cfg, props)
	if err != nil {
		return fmt.Errorf("failed to build resource: %w", err)
	}

	tp, err := p.buildTracerProvider(ctx, res, props)
	if err != nil {
		return fmt.Errorf("failed to build tracer provider: %w", err)
	}

	mp, registry, err := p.buildMeterProvider(ctx, res, props)
	if err != nil {
		// Roll the half-built backend back so we stay cleanly no-op.
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("failed to build meter provider: %w", err)
	}

	p.tp = tp
	p.mp = mp
	p.registry = registry
	p.tracer.setTarget(tp.Tracer(ScopeName))
	p.meter.setTarget(mp.Meter(ScopeName))

	p.logger.Info("telemetry backend initialized",
		"traces_exporter", defaultString(props[PropTracesExporter], "otlp"),
		"metrics_exporter", defaultString(props[PropMetricsExporter], "otlp"),
		"endpoint", props[PropOTLPEndpoint],
	)
	return nil
}

// InitializeNoOp tears the current backend down and leaves the provider in
// no-op mode, the state it was constructed in.
func (p *Provider) InitializeNoOp(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.shutdownLocked(ctx)
	p.logger.Info("telemetry backend set to no-op")
	return err
}

// Shutdown flushes and closes the active backend. It is idempotent: calls
// past the first are no-ops until the next Initialize. The handles stay
// usable and route to no-op implementations.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.shutdownLocked(ctx)
	if err != nil {
		p.logger.Warn("telemetry backend shutdown reported errors", "error", err)
	}
	return err
}

func (p *Provider) shutdownLocked(ctx context.Context) error {
	var errs []error

	if p.tp != nil {
		if err := p.tp.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush tracer provider: %w", err))
		}
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down tracer provider: %w", err))
		}
		p.tp = nil
	}

	if p.mp != nil {
		if err := p.mp.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush meter provider: %w", err))
		}
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down meter provider: %w", err))
		}
		p.mp = nil
	}

	p.registry = nil
	p.tracer.setTarget(noopTracer())
	p.meter.setTarget(noopMeter())

	return errors.Join(errs...)
}

func (p *Provider) buildResource(cfg Config, props map[string]string) (*resource.Resource, error) {
	serviceName := props[PropServiceName]
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	attrs := []attribute.KeyValue{
		otelsemconv.ServiceNameKey.String(serviceName),
	}
	if p.serviceVersion != "" {
		attrs = append(attrs, otelsemconv.ServiceVersionKey.String(p.serviceVersion))
	}
	if p.baseURL != "" {
		attrs = append(attrs, semconv.ServiceBaseURLKey.String(p.baseURL))
	}
	// Configured attributes come last: last value wins on key collision.
	for k, v := range cfg.ResourceAttributes() {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

func (p *Provider) buildTracerProvider(ctx context.Context, res *resource.Resource, props map[string]string) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFromProps(props, p.logger)),
	}

	switch exporter := defaultString(props[PropTracesExporter], "otlp"); exporter {
	case "otlp":
		exp, err := otlptracegrpc.New(ctx, otlpTraceOptions(props)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "console":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case "none":
		// Spans are built but dropped: no processor.
	default:
		return nil, fmt.Errorf("unknown traces exporter: %q", exporter)
	}

	for _, sp := range p.processors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

func (p *Provider) buildMeterProvider(ctx context.Context, res *resource.Resource, props map[string]string) (*sdkmetric.MeterProvider, *prometheus.Registry, error) {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}
	var registry *prometheus.Registry

	switch exporter := defaultString(props[PropMetricsExporter], "otlp"); exporter {
	case "otlp":
		exp, err := otlpmetricgrpc.New(ctx, otlpMetricOptions(props)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	case "prometheus":
		registry = prometheus.NewRegistry()
		exp, err := otelprom.New(otelprom.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	case "none":
		// A reader-less provider: instruments work but record nowhere.
	default:
		return nil, nil, fmt.Errorf("unknown metrics exporter: %q", exporter)
	}

	return sdkmetric.NewMeterProvider(opts...), registry, nil
}

func otlpTraceOptions(props map[string]string) []otlptracegrpc.Option {
	var opts []otlptracegrpc.Option
	if endpoint := props[PropOTLPEndpoint]; endpoint != "" {
		if strings.Contains(endpoint, "://") {
			opts = append(opts, otlptracegrpc.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
	}
	if props[PropOTLPInsecure] == "true" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return opts
}

func otlpMetricOptions(props map[string]string) []otlpmetricgrpc.Option {
	var opts []otlpmetricgrpc.Option
	if endpoint := props[PropOTLPEndpoint]; endpoint != "" {
		if strings.Contains(endpoint, "://") {
			opts = append(opts, otlpmetricgrpc.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
	}
	if props[PropOTLPInsecure] == "true" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return opts
}

func samplerFromProps(props map[string]string, logger *slog.Logger) sdktrace.Sampler {
	name := defaultString(props[PropTracesSampler], "always_on")
	switch name {
	case "always_on", "parentbased_always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio", "parentbased_traceidratio":
		ratio, err := strconv.ParseFloat(props[PropTracesSamplerArg], 64)
		if err != nil {
			logger.Warn("invalid sampler ratio, sampling everything",
				"arg", props[PropTracesSamplerArg],
				"error", err,
			)
			return sdktrace.AlwaysSample()
		}
		if name == "traceidratio" {
			return sdktrace.TraceIDRatioBased(ratio)
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	default:
		logger.Warn("unknown sampler, sampling everything", "sampler", name)
		return sdktrace.AlwaysSample()
	}
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
