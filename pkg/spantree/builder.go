package spantree

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/extract"
	"github.com/aretw0/tendril/pkg/flow"
	"github.com/aretw0/tendril/pkg/observe"
	"github.com/aretw0/tendril/pkg/semconv"
	"github.com/aretw0/tendril/pkg/tracestore"
)

// Builder turns lifecycle events into span trees. One Builder serves any
// number of concurrent runs; each run's state is independent.
type Builder struct {
	tracer     trace.Tracer
	extractors *extract.Registry
	store      tracestore.Store
	logger     *slog.Logger

	mu   sync.Mutex
	runs map[string]*runTrace

	metrics atomic.Pointer[selfMetrics]
}

// Option configures a Builder.
type Option func(*Builder)

// WithExtractors sets the registry that names and enriches atomic step
// spans. Without it every atomic step gets a generic span.
func WithExtractors(reg *extract.Registry) Option {
	return func(b *Builder) {
		b.extractors = reg
	}
}

// WithLogger sets the structured logger for topology warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithTraceStore persists each run's trace ref at root span creation, so the
// host can link runs to traces.
func WithTraceStore(store tracestore.Store) Option {
	return func(b *Builder) {
		b.store = store
	}
}

// WithMeter creates the builder's own health instruments on m. Equivalent to
// calling BindMeter right after construction.
func WithMeter(m metric.Meter) Option {
	return func(b *Builder) {
		b.metrics.Store(newSelfMetrics(m, b.logger))
	}
}

// NewBuilder creates a Builder that starts spans on tracer.
func NewBuilder(tracer trace.Tracer, opts ...Option) *Builder {
	b := &Builder{
		tracer: tracer,
		logger: logging.NewNop(),
		runs:   make(map[string]*runTrace),
	}
	// Counts are no-ops until a meter is bound.
	b.metrics.Store(&selfMetrics{})
	for _, opt := range opts {
		opt(b)
	}
	if b.extractors == nil {
		b.extractors = extract.NewRegistry()
	}
	return b
}

// BindMeter (re)creates the builder's health instruments on m. Instruments
// stick to the backend that created them, so call this again after the
// telemetry backend is reconfigured.
func (b *Builder) BindMeter(m metric.Meter) {
	b.metrics.Store(newSelfMetrics(m, b.logger))
}

// ActiveSpan returns the open span held for a node identity within a run.
// Observers coordinating through the two-phase start events use it to read
// the span created in the first phase.
func (b *Builder) ActiveSpan(runID, nodeID string) (trace.Span, bool) {
	b.mu.Lock()
	rt := b.runs[runID]
	b.mu.Unlock()
	if rt == nil {
		return nil, false
	}
	return rt.lookup(nodeID)
}

func (b *Builder) OnStartPipeline(ctx context.Context, node *flow.Node, run *flow.Run) {
	if run == nil || run.ID == "" {
		b.logger.WarnContext(ctx, "pipeline start without run identity, ignoring")
		return
	}
	name := run.Name
	if name == "" {
		name = run.ID
	}

	b.mu.Lock()
	if _, exists := b.runs[run.ID]; exists {
		b.mu.Unlock()
		b.logger.WarnContext(ctx, "duplicate pipeline start, keeping existing trace", "run_id", run.ID)
		b.m().topologyWarning(ctx)
		return
	}
	spanCtx, root := b.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			semconv.CIPipelineID(name),
			semconv.CIPipelineRunID(run.ID),
		),
	)
	b.runs[run.ID] = newRunTrace(root, spanCtx)
	b.mu.Unlock()

	b.m().runStarted(ctx)
	b.saveRef(ctx, run.ID, root)
}

func (b *Builder) OnStartNodeStep(ctx context.Context, node *flow.Node, label string, run *flow.Run) {
	name := "Node"
	attrs := stepAttrs(node)
	if label != "" {
		name = "Node: " + label
		attrs = append(attrs, semconv.CIPipelineAgentLabel(label))
	}
	b.startSpan(ctx, node, run, name, attrs, false)
}

// OnAfterStartNodeStep is the read phase of the two-phase node start: the
// span already exists, so there is nothing left to build.
func (b *Builder) OnAfterStartNodeStep(ctx context.Context, node *flow.Node, label string, run *flow.Run) {
}

func (b *Builder) OnEndNodeStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	b.endSpan(ctx, node, run)
}

func (b *Builder) OnStartStageStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	b.startSpan(ctx, node, run, "Stage: "+name, stepAttrs(node), false)
}

func (b *Builder) OnEndStageStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	b.endSpan(ctx, node, run)
}

func (b *Builder) OnStartParallelBranch(ctx context.Context, node *flow.Node, branch string, run *flow.Run) {
	attrs := append(stepAttrs(node), semconv.CIPipelineBranchName(branch))
	b.startSpan(ctx, node, run, "Parallel branch: "+branch, attrs, false)
}

func (b *Builder) OnEndParallelBranch(ctx context.Context, node *flow.Node, branch string, run *flow.Run) {
	b.endSpan(ctx, node, run)
}

func (b *Builder) OnAtomicStep(ctx context.Context, node *flow.Node, run *flow.Run) {
	res := b.extractors.Resolve(node)
	attrs := append(res.Attrs, stepAttrs(node)...)
	b.startSpan(ctx, node, run, res.SpanName, attrs, true)
}

func (b *Builder) OnAfterAtomicStep(ctx context.Context, node *flow.Node, run *flow.Run) {
	b.endSpan(ctx, node, run)
}

func (b *Builder) OnEndPipeline(ctx context.Context, node *flow.Node, run *flow.Run) {
	if run == nil {
		return
	}
	b.mu.Lock()
	rt := b.runs[run.ID]
	delete(b.runs, run.ID)
	b.mu.Unlock()

	if rt == nil {
		b.logger.WarnContext(ctx, "pipeline end for unknown run, ignoring", "run_id", run.ID)
		b.m().topologyWarning(ctx)
		return
	}

	forced := rt.finish()
	if forced > 0 {
		b.logger.WarnContext(ctx, "pipeline ended with open spans, force-closed them",
			"run_id", run.ID,
			"forced", forced,
		)
		b.m().forcedCloses(ctx, forced)
		b.m().spansEnded(ctx, forced)
	}
	b.m().runEnded(ctx)
}

func (b *Builder) startSpan(ctx context.Context, node *flow.Node, run *flow.Run, name string, attrs []attribute.KeyValue, atomic bool) {
	rt := b.run(run)
	if rt == nil {
		b.logger.WarnContext(ctx, "step event before pipeline start, ignoring",
			"run_id", runID(run),
			"node_id", nodeID(node),
		)
		b.m().topologyWarning(ctx)
		return
	}
	if node == nil || node.ID == "" {
		b.logger.WarnContext(ctx, "step event without node identity, ignoring", "run_id", run.ID)
		b.m().topologyWarning(ctx)
		return
	}

	if _, ok := rt.startSpan(b.tracer, ctx, node, name, attrs, atomic); !ok {
		b.logger.WarnContext(ctx, "start event for already open node, ignoring",
			"run_id", run.ID,
			"node_id", node.ID,
		)
		b.m().topologyWarning(ctx)
		return
	}
	b.m().spansStarted(ctx, 1)
}

func (b *Builder) endSpan(ctx context.Context, node *flow.Node, run *flow.Run) {
	rt := b.run(run)
	if rt == nil {
		b.logger.WarnContext(ctx, "end event before pipeline start, ignoring",
			"run_id", runID(run),
			"node_id", nodeID(node),
		)
		b.m().topologyWarning(ctx)
		return
	}
	if node == nil {
		return
	}

	forced, ok := rt.endSpan(node.CloseID())
	if !ok {
		b.logger.WarnContext(ctx, "end event without matching open span, ignoring",
			"run_id", run.ID,
			"node_id", node.ID,
			"close_id", node.CloseID(),
		)
		b.m().topologyWarning(ctx)
		return
	}
	if forced > 0 {
		b.logger.WarnContext(ctx, "block ended with open children, force-closed them",
			"run_id", run.ID,
			"close_id", node.CloseID(),
			"forced", forced,
		)
		b.m().forcedCloses(ctx, forced)
	}
	b.m().spansEnded(ctx, 1+forced)
}

func (b *Builder) run(run *flow.Run) *runTrace {
	if run == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs[run.ID]
}

func (b *Builder) m() *selfMetrics {
	return b.metrics.Load()
}

func (b *Builder) saveRef(ctx context.Context, runID string, root trace.Span) {
	if b.store == nil {
		return
	}
	sc := root.SpanContext()
	if !sc.IsValid() {
		// No-op backend: there is no trace to link to.
		return
	}
	ref := tracestore.Ref{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
	if err := b.store.Save(ctx, runID, ref); err != nil {
		b.logger.WarnContext(ctx, "failed to save trace ref", "run_id", runID, "error", err)
	}
}

func stepAttrs(node *flow.Node) []attribute.KeyValue {
	if node == nil {
		return nil
	}
	return []attribute.KeyValue{
		semconv.CIPipelineStepID(node.ID),
		semconv.CIPipelineStepName(node.Name),
	}
}

func runID(run *flow.Run) string {
	if run == nil {
		return ""
	}
	return run.ID
}

func nodeID(node *flow.Node) string {
	if node == nil {
		return ""
	}
	return node.ID
}

var _ observe.Listener = (*Builder)(nil)
