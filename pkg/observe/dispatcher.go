package observe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/flow"
)

// Dispatcher fans lifecycle events out to registered Listeners in
// registration order. It implements Listener itself, so the host drives a
// single entry point regardless of how many observers are attached.
//
// A listener that panics is recovered, logged and skipped for that event;
// the remaining listeners still receive it. Observation must never fail the
// observed run.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the structured logger used to report listener failures.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register appends a listener. Order is preserved: listeners receive every
// event in the order they were registered.
func (d *Dispatcher) Register(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Listeners returns the registered listeners in registration order.
func (d *Dispatcher) Listeners() []Listener {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Listener, len(d.listeners))
	copy(out, d.listeners)
	return out
}

func (d *Dispatcher) OnStartPipeline(ctx context.Context, node *flow.Node, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "start_pipeline", l, func() { l.OnStartPipeline(ctx, node, run) })
	}
}

func (d *Dispatcher) OnStartNodeStep(ctx context.Context, node *flow.Node, label string, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "start_node_step", l, func() { l.OnStartNodeStep(ctx, node, label, run) })
	}
}

func (d *Dispatcher) OnAfterStartNodeStep(ctx context.Context, node *flow.Node, label string, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "after_start_node_step", l, func() { l.OnAfterStartNodeStep(ctx, node, label, run) })
	}
}

func (d *Dispatcher) OnEndNodeStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "end_node_step", l, func() { l.OnEndNodeStep(ctx, node, name, run) })
	}
}

func (d *Dispatcher) OnStartStageStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "start_stage_step", l, func() { l.OnStartStageStep(ctx, node, name, run) })
	}
}

func (d *Dispatcher) OnEndStageStep(ctx context.Context, node *flow.Node, name string, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "end_stage_step", l, func() { l.OnEndStageStep(ctx, node, name, run) })
	}
}

func (d *Dispatcher) OnStartParallelBranch(ctx context.Context, node *flow.Node, branch string, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "start_parallel_branch", l, func() { l.OnStartParallelBranch(ctx, node, branch, run) })
	}
}

func (d *Dispatcher) OnEndParallelBranch(ctx context.Context, node *flow.Node, branch string, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "end_parallel_branch", l, func() { l.OnEndParallelBranch(ctx, node, branch, run) })
	}
}

func (d *Dispatcher) OnAtomicStep(ctx context.Context, node *flow.Node, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "atomic_step", l, func() { l.OnAtomicStep(ctx, node, run) })
	}
}

func (d *Dispatcher) OnAfterAtomicStep(ctx context.Context, node *flow.Node, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "after_atomic_step", l, func() { l.OnAfterAtomicStep(ctx, node, run) })
	}
}

func (d *Dispatcher) OnEndPipeline(ctx context.Context, node *flow.Node, run *flow.Run) {
	for _, l := range d.Listeners() {
		d.notify(ctx, "end_pipeline", l, func() { l.OnEndPipeline(ctx, node, run) })
	}
}

// notify runs one listener callback, isolating its failures from the host
// and from the listeners still waiting for the event.
func (d *Dispatcher) notify(ctx context.Context, event string, l Listener, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "listener panicked, skipping",
				"event", event,
				"listener", fmt.Sprintf("%T", l),
				"panic", r,
			)
		}
	}()
	fn()
}

var _ Listener = (*Dispatcher)(nil)
