// Package render prints recorded span trees to a terminal so a replay shows
// its result without a tracing backend.
package render

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Collector is a span processor that keeps every ended span in memory.
// It is unbounded and meant for one-shot replays, not long-lived services.
type Collector struct {
	mu    sync.Mutex
	ended []sdktrace.ReadOnlySpan
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// OnStart implements sdktrace.SpanProcessor.
func (c *Collector) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {}

// OnEnd implements sdktrace.SpanProcessor.
func (c *Collector) OnEnd(s sdktrace.ReadOnlySpan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, s)
}

// Shutdown implements sdktrace.SpanProcessor.
func (c *Collector) Shutdown(ctx context.Context) error {
	return nil
}

// ForceFlush implements sdktrace.SpanProcessor.
func (c *Collector) ForceFlush(ctx context.Context) error {
	return nil
}

// Spans returns the ended spans in end order.
func (c *Collector) Spans() []sdktrace.ReadOnlySpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sdktrace.ReadOnlySpan(nil), c.ended...)
}

var _ sdktrace.SpanProcessor = (*Collector)(nil)
