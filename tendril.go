package tendril

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/extract"
	"github.com/aretw0/tendril/pkg/observe"
	"github.com/aretw0/tendril/pkg/spantree"
	"github.com/aretw0/tendril/pkg/telemetry"
	"github.com/aretw0/tendril/pkg/tracestore"
)

// Observer is the high-level entry point for the tendril library.
// It wires the event dispatcher, the span tree builder and the telemetry
// provider together and exposes the lifecycle surface a host drives.
type Observer struct {
	provider   *telemetry.Provider
	dispatcher *observe.Dispatcher
	builder    *spantree.Builder

	logger     *slog.Logger
	store      tracestore.Store
	baseURL    string
	processors []sdktrace.SpanProcessor
	extractors []extract.Extractor
	listeners  []observe.Listener
}

// Option defines a functional option for configuring the Observer.
type Option func(*Observer)

// WithLogger sets a custom structured logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		o.logger = logger
	}
}

// WithTraceStore persists a trace ref per run so the host can link runs to
// their traces. The Observer does not own the store's lifecycle; close it
// yourself when it needs closing.
func WithTraceStore(store tracestore.Store) Option {
	return func(o *Observer) {
		o.store = store
	}
}

// WithBaseURL reports the host's public URL as a resource attribute so
// traces link back to it.
func WithBaseURL(url string) Option {
	return func(o *Observer) {
		o.baseURL = url
	}
}

// WithSpanProcessor installs an extra span processor on every configured
// backend, alongside the exporter's own.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *Observer) {
		o.processors = append(o.processors, sp)
	}
}

// WithExtractors prepends step attribute extractors to the built-in chain.
// The first extractor claiming a step wins, so these take precedence over
// the defaults.
func WithExtractors(extractors ...extract.Extractor) Option {
	return func(o *Observer) {
		o.extractors = append(o.extractors, extractors...)
	}
}

// WithListener registers an extra lifecycle listener behind the span tree
// builder.
func WithListener(listeners ...observe.Listener) Option {
	return func(o *Observer) {
		o.listeners = append(o.listeners, listeners...)
	}
}

// New initializes an Observer. It starts in no-op mode: events are accepted
// and dropped until Configure installs a backend.
func New(opts ...Option) *Observer {
	o := &Observer{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}

	registry := extract.NewRegistry(extract.WithLogger(o.logger))
	registry.Register(o.extractors...)
	registry.Register(extract.NewCheckout())

	providerOpts := []telemetry.Option{
		telemetry.WithLogger(o.logger),
		telemetry.WithServiceVersion(strings.TrimSpace(Version)),
	}
	if o.baseURL != "" {
		providerOpts = append(providerOpts, telemetry.WithBaseURL(o.baseURL))
	}
	for _, sp := range o.processors {
		providerOpts = append(providerOpts, telemetry.WithSpanProcessor(sp))
	}
	o.provider = telemetry.NewProvider(providerOpts...)

	builderOpts := []spantree.Option{
		spantree.WithExtractors(registry),
		spantree.WithLogger(o.logger),
		spantree.WithMeter(o.provider.Meter()),
	}
	if o.store != nil {
		builderOpts = append(builderOpts, spantree.WithTraceStore(o.store))
	}
	o.builder = spantree.NewBuilder(o.provider.Tracer(), builderOpts...)

	o.dispatcher = observe.NewDispatcher(observe.WithLogger(o.logger))
	o.dispatcher.Register(o.builder)
	for _, l := range o.listeners {
		o.dispatcher.Register(l)
	}

	return o
}

// Events returns the listener surface the host delivers lifecycle events to.
func (o *Observer) Events() *observe.Dispatcher {
	return o.dispatcher
}

// Register adds a lifecycle listener behind the span tree builder.
func (o *Observer) Register(l observe.Listener) {
	o.dispatcher.Register(l)
}

// Configure replaces the telemetry backend with one built from cfg. Spans
// and metrics recorded before the first Configure are dropped; the handles
// themselves never change.
func (o *Observer) Configure(ctx context.Context, cfg telemetry.Config) error {
	if err := o.provider.Initialize(ctx, cfg); err != nil {
		return err
	}
	// Instruments stick to the backend that created them, so the builder's
	// health counters must be recreated on the new one.
	o.builder.BindMeter(o.provider.Meter())
	return nil
}

// ConfigureNoOp drops the telemetry backend, returning to the state New
// left the Observer in.
func (o *Observer) ConfigureNoOp(ctx context.Context) error {
	err := o.provider.InitializeNoOp(ctx)
	o.builder.BindMeter(o.provider.Meter())
	return err
}

// Shutdown flushes and closes the active backend. Safe to call more than
// once; events delivered afterwards are dropped.
func (o *Observer) Shutdown(ctx context.Context) error {
	return o.provider.Shutdown(ctx)
}

// Tracer returns the stable tracer handle for host-made spans.
func (o *Observer) Tracer() trace.Tracer {
	return o.provider.Tracer()
}

// Meter returns the stable meter handle for host-made instruments.
func (o *Observer) Meter() metric.Meter {
	return o.provider.Meter()
}

// Registry returns the prometheus registry when the "prometheus" metrics
// exporter is active, nil otherwise.
func (o *Observer) Registry() *prometheus.Registry {
	return o.provider.Registry()
}

// ActiveSpan returns the open span for a node identity within a run, if any.
func (o *Observer) ActiveSpan(runID, nodeID string) (trace.Span, bool) {
	return o.builder.ActiveSpan(runID, nodeID)
}

// Provider returns the underlying telemetry provider.
func (o *Observer) Provider() *telemetry.Provider {
	return o.provider
}
