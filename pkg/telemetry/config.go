package telemetry

// Property names recognized by Initialize. They follow the otel.* naming of
// the OpenTelemetry autoconfiguration spec so collector deployments can be
// pointed at without translation.
const (
	// PropTracesExporter selects the trace exporter: "otlp" (default),
	// "console" or "none".
	PropTracesExporter = "otel.traces.exporter"

	// PropMetricsExporter selects the metric exporter: "otlp" (default),
	// "prometheus" or "none".
	PropMetricsExporter = "otel.metrics.exporter"

	// PropOTLPEndpoint is the OTLP gRPC endpoint, either host:port or a full
	// URL. Empty falls back to the exporter's own defaults (localhost:4317).
	PropOTLPEndpoint = "otel.exporter.otlp.endpoint"

	// PropOTLPInsecure disables transport security when "true".
	PropOTLPInsecure = "otel.exporter.otlp.insecure"

	// PropTracesSampler selects the sampler: "always_on" (default),
	// "always_off", "traceidratio" or "parentbased_traceidratio".
	PropTracesSampler = "otel.traces.sampler"

	// PropTracesSamplerArg is the ratio for the traceidratio samplers.
	PropTracesSamplerArg = "otel.traces.sampler.arg"

	// PropServiceName overrides the service.name resource attribute.
	PropServiceName = "otel.service.name"
)

// Config supplies everything Initialize needs to build a backend. It is read
// once per Initialize call; later mutations of the underlying data have no
// effect until the next call.
type Config interface {
	// ResourceAttributes are merged into the SDK resource after the built-in
	// defaults, overriding them on key collision.
	ResourceAttributes() map[string]string

	// Properties tune exporters and sampling using the Prop* names above.
	Properties() map[string]string
}

// Options is a ready-made Config for programmatic use. The zero value means
// OTLP traces and metrics against the exporter defaults.
type Options struct {
	ServiceName     string
	Endpoint        string
	Insecure        bool
	TracesExporter  string
	MetricsExporter string
	Sampler         string
	SamplerArg      string

	// Resource is copied into ResourceAttributes.
	Resource map[string]string

	// Extra holds raw property overrides, applied last.
	Extra map[string]string
}

// ResourceAttributes implements Config.
func (o Options) ResourceAttributes() map[string]string {
	return o.Resource
}

// Properties implements Config.
func (o Options) Properties() map[string]string {
	props := make(map[string]string)
	if o.ServiceName != "" {
		props[PropServiceName] = o.ServiceName
	}
	if o.Endpoint != "" {
		props[PropOTLPEndpoint] = o.Endpoint
	}
	if o.Insecure {
		props[PropOTLPInsecure] = "true"
	}
	if o.TracesExporter != "" {
		props[PropTracesExporter] = o.TracesExporter
	}
	if o.MetricsExporter != "" {
		props[PropMetricsExporter] = o.MetricsExporter
	}
	if o.Sampler != "" {
		props[PropTracesSampler] = o.Sampler
	}
	if o.SamplerArg != "" {
		props[PropTracesSamplerArg] = o.SamplerArg
	}
	for k, v := range o.Extra {
		props[k] = v
	}
	return props
}

var _ Config = Options{}
