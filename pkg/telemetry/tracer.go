package telemetry

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// TracerDelegate is the stable trace.Tracer handle returned by
// Provider.Tracer. The handle's identity never changes; reconfiguration swaps
// its target atomically, so holders keep working across backend changes and
// never observe a torn state. Reads take no lock.
type TracerDelegate struct {
	embedded.Tracer
	target atomic.Pointer[trace.Tracer]
}

func newTracerDelegate() *TracerDelegate {
	d := &TracerDelegate{}
	d.setTarget(noopTracer())
	return d
}

func noopTracer() trace.Tracer {
	return tracenoop.NewTracerProvider().Tracer(ScopeName)
}

func (d *TracerDelegate) setTarget(t trace.Tracer) {
	d.target.Store(&t)
}

// Start begins a span on the current target tracer.
func (d *TracerDelegate) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return (*d.target.Load()).Start(ctx, spanName, opts...)
}

var _ trace.Tracer = (*TracerDelegate)(nil)
