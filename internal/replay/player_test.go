package replay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aretw0/tendril/pkg/flow"
	"github.com/aretw0/tendril/pkg/observe"
	"github.com/aretw0/tendril/pkg/spantree"
)

// eventLog records events with their branch path so tests can check both the
// global shape and the per-branch ordering of a concurrent replay.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ctx context.Context, event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if branch := flow.BranchPath(ctx); branch != "" {
		event = branch + "|" + event
	}
	l.events = append(l.events, event)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) branch(name string) []string {
	var out []string
	for _, e := range l.all() {
		if strings.HasPrefix(e, name+"|") {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) OnStartPipeline(ctx context.Context, node *flow.Node, run *flow.Run) {
	l.add(ctx, "start_pipeline")
}

func (l *eventLog) OnStartNodeStep(ctx context.Context, node *flow.Node, label string, run *flow.Run) {
	l.add(ctx, "start_node:"+label)
}

func (l *eventLog) OnAfterStartNodeStep(ctx context.Context, node *flow.Node, label string, run *flow.Run) {
	l.add(ctx, "after_start_node:"+label)
}

func (l *eventLog) OnEndNodeStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	l.add(ctx, "end_node")
}

func (l *eventLog) OnStartStageStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	l.add(ctx, "start_stage:"+name)
}

func (l *eventLog) OnEndStageStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	l.add(ctx, "end_stage:"+name)
}

func (l *eventLog) OnStartParallelBranch(ctx context.Context, node *flow.Node, branch string, run *flow.Run) {
	l.add(ctx, "start_branch:"+branch)
}

func (l *eventLog) OnEndParallelBranch(ctx context.Context, node *flow.Node, branch string, run *flow.Run) {
	l.add(ctx, "end_branch:"+branch)
}

func (l *eventLog) OnAtomicStep(ctx context.Context, node *flow.Node, run *flow.Run) {
	l.add(ctx, "atomic:"+node.Name)
}

func (l *eventLog) OnAfterAtomicStep(ctx context.Context, node *flow.Node, run *flow.Run) {
	l.add(ctx, "after_atomic:"+node.Name)
}

func (l *eventLog) OnEndPipeline(ctx context.Context, node *flow.Node, run *flow.Run) {
	l.add(ctx, "end_pipeline")
}

func noSleep(time.Duration) {}

func TestPlayer_SequentialEvents(t *testing.T) {
	log := &eventLog{}
	player := NewPlayer(log, WithSleeper(noSleep))

	script := &Script{
		Run:   flow.Run{ID: "build-1", Name: "demo"},
		Agent: "linux",
		Stages: []Stage{
			{Name: "Build", Steps: []Step{
				{Name: "checkout"},
				{Name: "sh", Pause: Duration(time.Millisecond)},
			}},
		},
	}

	require.NoError(t, player.Play(context.Background(), script))

	assert.Equal(t, []string{
		"start_pipeline",
		"start_node:linux",
		"after_start_node:linux",
		"start_stage:Build",
		"atomic:checkout",
		"after_atomic:checkout",
		"atomic:sh",
		"after_atomic:sh",
		"end_stage:Build",
		"end_node",
		"end_pipeline",
	}, log.all())
}

func TestPlayer_NoAgentSkipsNodeBlock(t *testing.T) {
	log := &eventLog{}
	player := NewPlayer(log, WithSleeper(noSleep))

	script := &Script{
		Run:    flow.Run{ID: "build-2"},
		Stages: []Stage{{Name: "Build"}},
	}

	require.NoError(t, player.Play(context.Background(), script))
	assert.Equal(t, []string{
		"start_pipeline",
		"start_stage:Build",
		"end_stage:Build",
		"end_pipeline",
	}, log.all())
}

func TestPlayer_AbortCutsTheRunShort(t *testing.T) {
	log := &eventLog{}
	player := NewPlayer(log, WithSleeper(noSleep))

	script := &Script{
		Run:   flow.Run{ID: "build-3"},
		Agent: "linux",
		Stages: []Stage{
			{Name: "Build", Steps: []Step{{Name: "sh", Abort: true}}},
			{Name: "Test", Steps: []Step{{Name: "go test"}}},
		},
	}

	err := player.Play(context.Background(), script)
	require.ErrorIs(t, err, ErrAborted)

	assert.Equal(t, []string{
		"start_pipeline",
		"start_node:linux",
		"after_start_node:linux",
		"start_stage:Build",
		"atomic:sh",
		"end_pipeline",
	}, log.all(), "the aborted step never completes and nothing after it runs")
}

func TestPlayer_ParallelBranches(t *testing.T) {
	log := &eventLog{}
	player := NewPlayer(log, WithSleeper(noSleep))

	script := &Script{
		Run: flow.Run{ID: "build-4"},
		Stages: []Stage{
			{Name: "Test", Parallel: []Branch{
				{Name: "unit", Steps: []Step{{Name: "go test"}}},
				{Name: "integration", Steps: []Step{{Name: "go test -tags integration"}}},
			}},
		},
	}

	require.NoError(t, player.Play(context.Background(), script))

	events := log.all()
	require.Len(t, events, 12)
	assert.Equal(t, "start_pipeline", events[0])
	assert.Equal(t, "start_stage:Test", events[1])
	assert.Equal(t, "end_stage:Test", events[len(events)-2])
	assert.Equal(t, "end_pipeline", events[len(events)-1])

	assert.Equal(t, []string{
		"unit|start_branch:unit",
		"unit|atomic:go test",
		"unit|after_atomic:go test",
		"unit|end_branch:unit",
	}, log.branch("unit"), "each branch keeps its own order regardless of interleaving")
	assert.Equal(t, []string{
		"integration|start_branch:integration",
		"integration|atomic:go test -tags integration",
		"integration|after_atomic:go test -tags integration",
		"integration|end_branch:integration",
	}, log.branch("integration"))
}

func TestPlayer_CanceledContext(t *testing.T) {
	log := &eventLog{}
	player := NewPlayer(log, WithSleeper(noSleep))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	script := &Script{
		Run:    flow.Run{ID: "build-5"},
		Stages: []Stage{{Name: "Build", Steps: []Step{{Name: "sh"}}}},
	}

	err := player.Play(ctx, script)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"start_pipeline", "end_pipeline"}, log.all(),
		"the end event is delivered even on cancellation")
}

func TestPlayer_BuildsTreeThroughDispatcher(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	builder := spantree.NewBuilder(tp.Tracer("replay_test"))

	d := observe.NewDispatcher()
	d.Register(builder)
	player := NewPlayer(d, WithSleeper(noSleep))

	script, err := Parse(strings.NewReader(`
run:
  id: build-6
  name: demo
agent: linux
stages:
  - name: Build
    steps:
      - name: sh
        args: { script: make }
  - name: Test
    parallel:
      - name: unit
        steps:
          - name: go test
      - name: integration
        stages:
          - name: Integration
            steps:
              - name: go test -tags integration
`))
	require.NoError(t, err)
	require.NoError(t, player.Play(context.Background(), script))

	spans := sr.Ended()
	require.Len(t, spans, 10)

	byName := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		byName[s.Name()] = s
	}
	childOf := func(child, parent string) {
		t.Helper()
		c, p := byName[child], byName[parent]
		require.NotNil(t, c, "span %q", child)
		require.NotNil(t, p, "span %q", parent)
		assert.Equal(t, p.SpanContext().SpanID(), c.Parent().SpanID(),
			"%s should be a child of %s", child, parent)
	}

	childOf("Node: linux", "demo")
	childOf("Stage: Build", "Node: linux")
	childOf("sh", "Stage: Build")
	childOf("Stage: Test", "Node: linux")
	childOf("Parallel branch: unit", "Stage: Test")
	childOf("go test", "Parallel branch: unit")
	childOf("Parallel branch: integration", "Stage: Test")
	childOf("Stage: Integration", "Parallel branch: integration")
	childOf("go test -tags integration", "Stage: Integration")
}
