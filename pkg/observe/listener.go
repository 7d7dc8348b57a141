package observe

import (
	"context"

	"github.com/aretw0/tendril/pkg/flow"
)

// Listener receives the lifecycle events of pipeline runs.
//
// Delivery is synchronous on the host's execution goroutine: implementations
// must return quickly and must not block. Events inside a parallel branch
// arrive with a context derived via flow.WithBranch; sibling branches may
// deliver concurrently, so implementations shared across branches must be
// safe for concurrent use.
//
// Block steps (node, stage, parallel branch) produce paired start/end events;
// the end event's node carries the start node's identity in StartID. Start
// events for node allocations and atomic steps come in two phases: the plain
// event fires before the step is fully initialized, the After variant fires
// once it is, so observers that read state published by earlier listeners
// (the active span, for one) should do so in the After phase.
type Listener interface {
	// OnStartPipeline fires once when a run begins, before any step event.
	OnStartPipeline(ctx context.Context, node *flow.Node, run *flow.Run)

	// OnStartNodeStep fires when an executor node block starts. label is the
	// requested agent label, possibly empty.
	OnStartNodeStep(ctx context.Context, node *flow.Node, label string, run *flow.Run)

	// OnAfterStartNodeStep fires after the node block is fully started.
	OnAfterStartNodeStep(ctx context.Context, node *flow.Node, label string, run *flow.Run)

	// OnEndNodeStep fires when an executor node block ends. node.StartID
	// names the block being closed; name repeats the label.
	OnEndNodeStep(ctx context.Context, node *flow.Node, name string, run *flow.Run)

	// OnStartStageStep fires when a stage block starts.
	OnStartStageStep(ctx context.Context, node *flow.Node, name string, run *flow.Run)

	// OnEndStageStep fires when a stage block ends.
	OnEndStageStep(ctx context.Context, node *flow.Node, name string, run *flow.Run)

	// OnStartParallelBranch fires when one branch of a parallel block starts.
	// ctx already carries the branch annotation (flow.BranchPath).
	OnStartParallelBranch(ctx context.Context, node *flow.Node, branch string, run *flow.Run)

	// OnEndParallelBranch fires when the branch ends, on the same branch
	// context as its start.
	OnEndParallelBranch(ctx context.Context, node *flow.Node, branch string, run *flow.Run)

	// OnAtomicStep fires when a non-block step is about to execute.
	OnAtomicStep(ctx context.Context, node *flow.Node, run *flow.Run)

	// OnAfterAtomicStep fires when the atomic step has executed.
	OnAfterAtomicStep(ctx context.Context, node *flow.Node, run *flow.Run)

	// OnEndPipeline fires once when the run finishes, after every step event,
	// whether the run completed or was aborted.
	OnEndPipeline(ctx context.Context, node *flow.Node, run *flow.Run)
}

// BaseListener is a Listener that ignores every event. Embed it to implement
// only the events you need.
type BaseListener struct{}

func (BaseListener) OnStartPipeline(context.Context, *flow.Node, *flow.Run) {}

func (BaseListener) OnStartNodeStep(context.Context, *flow.Node, string, *flow.Run) {}

func (BaseListener) OnAfterStartNodeStep(context.Context, *flow.Node, string, *flow.Run) {}

func (BaseListener) OnEndNodeStep(context.Context, *flow.Node, string, *flow.Run) {}

func (BaseListener) OnStartStageStep(context.Context, *flow.Node, string, *flow.Run) {}

func (BaseListener) OnEndStageStep(context.Context, *flow.Node, string, *flow.Run) {}

func (BaseListener) OnStartParallelBranch(context.Context, *flow.Node, string, *flow.Run) {}

func (BaseListener) OnEndParallelBranch(context.Context, *flow.Node, string, *flow.Run) {}

func (BaseListener) OnAtomicStep(context.Context, *flow.Node, *flow.Run) {}

func (BaseListener) OnAfterAtomicStep(context.Context, *flow.Node, *flow.Run) {}

func (BaseListener) OnEndPipeline(context.Context, *flow.Node, *flow.Run) {}

var _ Listener = BaseListener{}
