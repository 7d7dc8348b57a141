package spantree

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

// selfMetrics counts the builder's own activity. Run counters track root
// spans; span counters track everything below the root.
type selfMetrics struct {
	runsStarted  metric.Int64Counter
	runsEnded    metric.Int64Counter
	started      metric.Int64Counter
	ended        metric.Int64Counter
	forced       metric.Int64Counter
	topoWarnings metric.Int64Counter
}

func newSelfMetrics(m metric.Meter, logger *slog.Logger) *selfMetrics {
	s := &selfMetrics{}
	s.runsStarted = counter(m, logger, "tendril.runs.started", "{run}", "Pipeline runs that opened a root span.")
	s.runsEnded = counter(m, logger, "tendril.runs.ended", "{run}", "Pipeline runs whose root span was closed.")
	s.started = counter(m, logger, "tendril.spans.started", "{span}", "Step spans started below a run root.")
	s.ended = counter(m, logger, "tendril.spans.ended", "{span}", "Step spans ended, including force-closed ones.")
	s.forced = counter(m, logger, "tendril.spans.forced_closes", "{span}", "Spans closed with an incomplete status because their block ended first.")
	s.topoWarnings = counter(m, logger, "tendril.topology.warnings", "{event}", "Lifecycle events dropped or degraded because they did not fit the open tree.")
	return s
}

func counter(m metric.Meter, logger *slog.Logger, name, unit, desc string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(desc))
	if err != nil {
		if logger != nil {
			logger.Warn("failed to create instrument", "name", name, "error", err)
		}
		return nil
	}
	return c
}

func (s *selfMetrics) runStarted(ctx context.Context) {
	s.add(ctx, s.runsStarted, 1)
}

func (s *selfMetrics) runEnded(ctx context.Context) {
	s.add(ctx, s.runsEnded, 1)
}

func (s *selfMetrics) spansStarted(ctx context.Context, n int) {
	s.add(ctx, s.started, int64(n))
}

func (s *selfMetrics) spansEnded(ctx context.Context, n int) {
	s.add(ctx, s.ended, int64(n))
}

func (s *selfMetrics) forcedCloses(ctx context.Context, n int) {
	s.add(ctx, s.forced, int64(n))
}

func (s *selfMetrics) topologyWarning(ctx context.Context) {
	s.add(ctx, s.topoWarnings, 1)
}

func (s *selfMetrics) add(ctx context.Context, c metric.Int64Counter, n int64) {
	if s == nil || c == nil || n == 0 {
		return
	}
	c.Add(ctx, n)
}
