package spantree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/tendril/pkg/extract"
	"github.com/aretw0/tendril/pkg/flow"
	"github.com/aretw0/tendril/pkg/semconv"
	"github.com/aretw0/tendril/pkg/tracestore/memory"
)

func newTestTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return tp.Tracer("spantree_test"), sr
}

func spansByName(spans []sdktrace.ReadOnlySpan) map[string]sdktrace.ReadOnlySpan {
	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		byName[s.Name()] = s
	}
	return byName
}

func assertChildOf(t *testing.T, child, parent sdktrace.ReadOnlySpan) {
	t.Helper()
	assert.Equal(t, parent.SpanContext().SpanID(), child.Parent().SpanID(),
		"%s should be a child of %s", child.Name(), parent.Name())
}

func attrValue(s sdktrace.ReadOnlySpan, key attribute.Key) (string, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestBuilder_WellNestedRun(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-7", Name: "deploy-service"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2", Name: "Start of Pipeline"}, run)
	b.OnStartNodeStep(ctx, &flow.Node{ID: "3", Name: "node"}, "linux-agent", run)
	b.OnAfterStartNodeStep(ctx, &flow.Node{ID: "3", Name: "node"}, "linux-agent", run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Build"}, "Build", run)
	b.OnAtomicStep(ctx, &flow.Node{ID: "7", Name: "sh", Args: map[string]any{"script": "make"}}, run)
	b.OnAfterAtomicStep(ctx, &flow.Node{ID: "7", Name: "sh"}, run)
	b.OnEndStageStep(ctx, &flow.Node{ID: "8", Name: "Build", StartID: "5"}, "Build", run)
	b.OnEndNodeStep(ctx, &flow.Node{ID: "9", Name: "node", StartID: "3"}, "node", run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "10"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 4)
	byName := spansByName(spans)

	root, ok := byName["deploy-service"]
	require.True(t, ok, "root span should carry the run name")
	node := byName["Node: linux-agent"]
	stage := byName["Stage: Build"]
	sh := byName["sh"]
	require.NotNil(t, node)
	require.NotNil(t, stage)
	require.NotNil(t, sh)

	assert.False(t, root.Parent().IsValid(), "root span should have no parent")
	assertChildOf(t, node, root)
	assertChildOf(t, stage, node)
	assertChildOf(t, sh, stage)

	for _, s := range spans {
		assert.Equal(t, codes.Ok, s.Status().Code, "span %s", s.Name())
		assert.Equal(t, trace.SpanKindInternal, s.SpanKind(), "span %s", s.Name())
	}

	if v, ok := attrValue(root, semconv.CIPipelineIDKey); assert.True(t, ok) {
		assert.Equal(t, "deploy-service", v)
	}
	if v, ok := attrValue(root, semconv.CIPipelineRunIDKey); assert.True(t, ok) {
		assert.Equal(t, "build-7", v)
	}
	if v, ok := attrValue(node, semconv.CIPipelineAgentLabelKey); assert.True(t, ok) {
		assert.Equal(t, "linux-agent", v)
	}
	if v, ok := attrValue(stage, semconv.CIPipelineStepIDKey); assert.True(t, ok) {
		assert.Equal(t, "5", v)
	}
	if v, ok := attrValue(sh, semconv.CIPipelineStepNameKey); assert.True(t, ok) {
		assert.Equal(t, "sh", v)
	}
}

func TestBuilder_ParallelBranches(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-8", Name: "fan-out"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Test"}, "Test", run)

	ctxA := flow.WithBranch(ctx, "unit")
	ctxB := flow.WithBranch(ctx, "integration")

	b.OnStartParallelBranch(ctxA, &flow.Node{ID: "7", Name: "Branch: unit"}, "unit", run)
	b.OnStartParallelBranch(ctxB, &flow.Node{ID: "8", Name: "Branch: integration"}, "integration", run)

	// Steps interleave across branches the way concurrent branches do.
	b.OnAtomicStep(ctxB, &flow.Node{ID: "10", Name: "go test -tags integration"}, run)
	b.OnAtomicStep(ctxA, &flow.Node{ID: "9", Name: "go test"}, run)
	b.OnAfterAtomicStep(ctxA, &flow.Node{ID: "9", Name: "go test"}, run)
	b.OnAfterAtomicStep(ctxB, &flow.Node{ID: "10", Name: "go test -tags integration"}, run)

	b.OnEndParallelBranch(ctxA, &flow.Node{ID: "11", StartID: "7"}, "unit", run)
	b.OnEndParallelBranch(ctxB, &flow.Node{ID: "12", StartID: "8"}, "integration", run)
	b.OnEndStageStep(ctx, &flow.Node{ID: "13", StartID: "5"}, "Test", run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "14"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 6)
	byName := spansByName(spans)

	stage := byName["Stage: Test"]
	branchA := byName["Parallel branch: unit"]
	branchB := byName["Parallel branch: integration"]
	stepA := byName["go test"]
	stepB := byName["go test -tags integration"]
	require.NotNil(t, stage)
	require.NotNil(t, branchA)
	require.NotNil(t, branchB)
	require.NotNil(t, stepA)
	require.NotNil(t, stepB)

	assertChildOf(t, branchA, stage)
	assertChildOf(t, branchB, stage)
	assertChildOf(t, stepA, branchA)
	assertChildOf(t, stepB, branchB)

	if v, ok := attrValue(branchA, semconv.CIPipelineBranchNameKey); assert.True(t, ok) {
		assert.Equal(t, "unit", v)
	}

	for _, s := range spans {
		assert.Equal(t, codes.Ok, s.Status().Code, "span %s", s.Name())
	}
}

func TestBuilder_NestedParallelBranches(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-9", Name: "matrix"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)

	ctxOuter := flow.WithBranch(ctx, "linux")
	b.OnStartParallelBranch(ctxOuter, &flow.Node{ID: "4", Name: "Branch: linux"}, "linux", run)

	ctxInner := flow.WithBranch(ctxOuter, "amd64")
	b.OnStartParallelBranch(ctxInner, &flow.Node{ID: "6", Name: "Branch: amd64"}, "amd64", run)
	b.OnAtomicStep(ctxInner, &flow.Node{ID: "8", Name: "make"}, run)
	b.OnAfterAtomicStep(ctxInner, &flow.Node{ID: "8", Name: "make"}, run)
	b.OnEndParallelBranch(ctxInner, &flow.Node{ID: "9", StartID: "6"}, "amd64", run)

	b.OnEndParallelBranch(ctxOuter, &flow.Node{ID: "10", StartID: "4"}, "linux", run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "11"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 4)
	byName := spansByName(spans)

	outer := byName["Parallel branch: linux"]
	inner := byName["Parallel branch: amd64"]
	step := byName["make"]
	root := byName["matrix"]
	require.NotNil(t, outer)
	require.NotNil(t, inner)
	require.NotNil(t, step)
	require.NotNil(t, root)

	assertChildOf(t, outer, root)
	assertChildOf(t, inner, outer)
	assertChildOf(t, step, inner)
}

func TestBuilder_ForceClosesOpenChildren(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-10", Name: "flaky"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Build"}, "Build", run)
	b.OnAtomicStep(ctx, &flow.Node{ID: "7", Name: "sh"}, run)
	// The stage ends while its step is still open.
	b.OnEndStageStep(ctx, &flow.Node{ID: "8", StartID: "5"}, "Build", run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "9"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	byName := spansByName(spans)

	sh := byName["sh"]
	stage := byName["Stage: Build"]
	root := byName["flaky"]
	require.NotNil(t, sh)
	require.NotNil(t, stage)
	require.NotNil(t, root)

	assert.Equal(t, codes.Error, sh.Status().Code)
	assert.Equal(t, "incomplete", sh.Status().Description)
	assert.Equal(t, codes.Ok, stage.Status().Code)
	assert.Equal(t, codes.Ok, root.Status().Code, "force-closes before pipeline end do not fail the run")

	// The step is closed before the stage that forced it.
	assert.Equal(t, "sh", spans[0].Name())
	assert.Equal(t, "Stage: Build", spans[1].Name())
}

func TestBuilder_EndPipelineForceClosesEverything(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-11", Name: "aborted"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Deploy"}, "Deploy", run)
	b.OnAtomicStep(ctx, &flow.Node{ID: "7", Name: "sh"}, run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "8"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	byName := spansByName(spans)

	assert.Equal(t, codes.Error, byName["sh"].Status().Code)
	assert.Equal(t, "incomplete", byName["sh"].Status().Description)
	assert.Equal(t, codes.Error, byName["Stage: Deploy"].Status().Code)
	assert.Equal(t, codes.Error, byName["aborted"].Status().Code,
		"a run that ends with open spans is marked incomplete")
	assert.Equal(t, "incomplete", byName["aborted"].Status().Description)
}

func TestBuilder_IgnoresEventsOutsideARun(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-12", Name: "ghost"}

	// No OnStartPipeline was delivered for this run.
	b.OnAtomicStep(ctx, &flow.Node{ID: "7", Name: "sh"}, run)
	b.OnEndStageStep(ctx, &flow.Node{ID: "8", StartID: "5"}, "Build", run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "9"}, run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Build"}, "Build", nil)

	assert.Empty(t, sr.Ended())
}

func TestBuilder_IgnoresDuplicateStarts(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-13", Name: "repeat"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Build"}, "Build", run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Build"}, "Build", run)
	b.OnEndStageStep(ctx, &flow.Node{ID: "6", StartID: "5"}, "Build", run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "7"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "Stage: Build", spans[0].Name())
	assert.Equal(t, "repeat", spans[1].Name())
}

func TestBuilder_IgnoresUnmatchedEnds(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-14", Name: "stray"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnEndStageStep(ctx, &flow.Node{ID: "6", StartID: "5"}, "Build", run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "7"}, run)
	// A second end for the same run arrives after cleanup.
	b.OnEndPipeline(ctx, &flow.Node{ID: "7"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "stray", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestBuilder_SameNameDifferentIdentity(t *testing.T) {
	tracer, sr := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-15", Name: "retries"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnAtomicStep(ctx, &flow.Node{ID: "5", Name: "sh"}, run)
	b.OnAfterAtomicStep(ctx, &flow.Node{ID: "5", Name: "sh"}, run)
	b.OnAtomicStep(ctx, &flow.Node{ID: "7", Name: "sh"}, run)
	b.OnAfterAtomicStep(ctx, &flow.Node{ID: "7", Name: "sh"}, run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "8"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "sh", spans[0].Name())
	assert.Equal(t, "sh", spans[1].Name())
	assert.NotEqual(t, spans[0].SpanContext().SpanID(), spans[1].SpanContext().SpanID())
}

func TestBuilder_ActiveSpan(t *testing.T) {
	tracer, _ := newTestTracer()
	b := NewBuilder(tracer)
	ctx := context.Background()
	run := &flow.Run{ID: "build-16", Name: "probe"}

	_, ok := b.ActiveSpan(run.ID, "5")
	assert.False(t, ok, "no run yet")

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Build"}, "Build", run)

	span, ok := b.ActiveSpan(run.ID, "5")
	require.True(t, ok)
	assert.True(t, span.SpanContext().IsValid())

	b.OnEndStageStep(ctx, &flow.Node{ID: "6", StartID: "5"}, "Build", run)
	_, ok = b.ActiveSpan(run.ID, "5")
	assert.False(t, ok, "closed spans are no longer active")

	b.OnEndPipeline(ctx, &flow.Node{ID: "7"}, run)
	_, ok = b.ActiveSpan(run.ID, "5")
	assert.False(t, ok)
}

func TestBuilder_AtomicStepUsesExtractors(t *testing.T) {
	tracer, sr := newTestTracer()
	reg := extract.NewRegistry()
	reg.Register(extract.NewCheckout())
	b := NewBuilder(tracer, WithExtractors(reg))
	ctx := context.Background()
	run := &flow.Run{ID: "build-17", Name: "scm"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnAtomicStep(ctx, &flow.Node{
		ID:   "5",
		Name: "checkout",
		Args: map[string]any{
			"url":    "https://github.com/open-telemetry/opentelemetry-java.git",
			"branch": "main",
		},
	}, run)
	b.OnAfterAtomicStep(ctx, &flow.Node{ID: "5", Name: "checkout"}, run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "6"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	checkout := spans[0]
	assert.Equal(t, "checkout: github.com/open-telemetry/opentelemetry-java", checkout.Name())
	if v, ok := attrValue(checkout, semconv.GitRepositoryKey); assert.True(t, ok) {
		assert.Equal(t, "open-telemetry/opentelemetry-java", v)
	}
	if v, ok := attrValue(checkout, semconv.GitBranchKey); assert.True(t, ok) {
		assert.Equal(t, "main", v)
	}
	if v, ok := attrValue(checkout, semconv.CIPipelineStepIDKey); assert.True(t, ok) {
		assert.Equal(t, "5", v)
	}
}

func TestBuilder_SavesTraceRef(t *testing.T) {
	tracer, sr := newTestTracer()
	store := memory.NewStore()
	b := NewBuilder(tracer, WithTraceStore(store))
	ctx := context.Background()
	run := &flow.Run{ID: "build-18", Name: "linked"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "3"}, run)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	root := spans[0]

	ref, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, root.SpanContext().TraceID().String(), ref.TraceID)
	assert.Equal(t, root.SpanContext().SpanID().String(), ref.SpanID)
}

func TestBuilder_SelfMetrics(t *testing.T) {
	tracer, _ := newTestTracer()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	b := NewBuilder(tracer)
	b.BindMeter(mp.Meter("spantree_test"))
	ctx := context.Background()
	run := &flow.Run{ID: "build-19", Name: "counted"}

	b.OnStartPipeline(ctx, &flow.Node{ID: "2"}, run)
	b.OnStartStageStep(ctx, &flow.Node{ID: "5", Name: "Build"}, "Build", run)
	b.OnAtomicStep(ctx, &flow.Node{ID: "7", Name: "sh"}, run)
	b.OnEndStageStep(ctx, &flow.Node{ID: "8", StartID: "5"}, "Build", run)
	b.OnEndStageStep(ctx, &flow.Node{ID: "8", StartID: "5"}, "Build", run)
	b.OnEndPipeline(ctx, &flow.Node{ID: "9"}, run)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(1), counterValue(t, rm, "tendril.runs.started"))
	assert.Equal(t, int64(1), counterValue(t, rm, "tendril.runs.ended"))
	assert.Equal(t, int64(2), counterValue(t, rm, "tendril.spans.started"))
	assert.Equal(t, int64(2), counterValue(t, rm, "tendril.spans.ended"))
	assert.Equal(t, int64(1), counterValue(t, rm, "tendril.spans.forced_closes"))
	assert.Equal(t, int64(1), counterValue(t, rm, "tendril.topology.warnings"),
		"the repeated stage end is counted")
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s should be an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}
