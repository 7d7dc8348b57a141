package spantree

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/tendril/pkg/flow"
)

// statusIncomplete marks spans that were closed by cleanup rather than by
// their own end event.
const statusIncomplete = "incomplete"

// openSpan is one not-yet-ended span of a run.
type openSpan struct {
	span     trace.Span
	ctx      context.Context // parent context for children of this span
	branch   string          // branch path whose stack holds it; "" is the main line
	parentID string          // node ID of the parent span; "" when parented on the root
	atomic   bool            // atomic steps never join a stack
}

// runTrace is the span state of one run. Parallel branches deliver events
// concurrently, so every access goes through mu.
type runTrace struct {
	mu      sync.Mutex
	root    trace.Span
	rootCtx context.Context
	open    map[string]*openSpan // keyed by start node ID
	stacks  map[string][]string  // branch path -> open node IDs, bottom first
}

func newRunTrace(root trace.Span, rootCtx context.Context) *runTrace {
	return &runTrace{
		root:    root,
		rootCtx: rootCtx,
		open:    make(map[string]*openSpan),
		stacks:  make(map[string][]string),
	}
}

// startSpan opens a span for node under the current top of its branch stack.
// Block spans are pushed onto the stack; atomic ones are only tracked in the
// open map. ok is false when the node identity is already open.
func (rt *runTrace) startSpan(tracer trace.Tracer, ctx context.Context, node *flow.Node, name string, attrs []attribute.KeyValue, atomic bool) (trace.Span, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.open[node.ID]; exists {
		return nil, false
	}

	branch := flow.BranchPath(ctx)
	parentCtx, parentID := rt.parentLocked(branch)

	spanCtx, span := tracer.Start(parentCtx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	rt.open[node.ID] = &openSpan{
		span:     span,
		ctx:      spanCtx,
		branch:   branch,
		parentID: parentID,
		atomic:   atomic,
	}
	if !atomic {
		rt.stacks[branch] = append(rt.stacks[branch], node.ID)
	}
	return span, true
}

// parentLocked resolves the parent for a new span on the given branch path:
// the top of that path's stack, walking up enclosing paths when it is empty,
// and the run root when every stack on the way up is. A branch's own start
// lands here with an empty stack for its path, which parents it on the
// enclosing stage or branch exactly as intended.
func (rt *runTrace) parentLocked(branch string) (context.Context, string) {
	for path := branch; ; path = flow.ParentBranchPath(path) {
		if stack := rt.stacks[path]; len(stack) > 0 {
			id := stack[len(stack)-1]
			if os, ok := rt.open[id]; ok {
				return os.ctx, id
			}
		}
		if path == "" {
			return rt.rootCtx, ""
		}
	}
}

// endSpan closes the span opened under closeID, force-closing any open
// descendants first so the tree stays well formed. ok is false when no such
// span is open.
func (rt *runTrace) endSpan(closeID string) (forced int, ok bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	os, exists := rt.open[closeID]
	if !exists {
		return 0, false
	}

	forced = rt.forceCloseDescendantsLocked(closeID)
	os.span.SetStatus(codes.Ok, "")
	os.span.End()
	rt.removeLocked(closeID, os)
	return forced, true
}

// finish force-closes everything still open and ends the root span. A clean
// run ends with nothing open; anything left means the run was aborted, and
// the root carries the incomplete status to say so.
func (rt *runTrace) finish() (forced int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	forced = rt.forceCloseDescendantsLocked("")
	if forced > 0 {
		rt.root.SetStatus(codes.Error, statusIncomplete)
	} else {
		rt.root.SetStatus(codes.Ok, "")
	}
	rt.root.End()
	return forced
}

// forceCloseDescendantsLocked ends every open span below parentID, children
// before parents, and returns how many it closed.
func (rt *runTrace) forceCloseDescendantsLocked(parentID string) int {
	var victims []string
	var collect func(string)
	collect = func(pid string) {
		for id, os := range rt.open {
			if os.parentID == pid {
				collect(id)
				victims = append(victims, id)
			}
		}
	}
	collect(parentID)

	for _, id := range victims {
		os := rt.open[id]
		os.span.SetStatus(codes.Error, statusIncomplete)
		os.span.End()
		rt.removeLocked(id, os)
	}
	return len(victims)
}

func (rt *runTrace) removeLocked(id string, os *openSpan) {
	delete(rt.open, id)
	if os.atomic {
		return
	}
	stack := rt.stacks[os.branch]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == id {
			rt.stacks[os.branch] = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(rt.stacks[os.branch]) == 0 {
		delete(rt.stacks, os.branch)
	}
}

// lookup returns the open span for a node identity.
func (rt *runTrace) lookup(nodeID string) (trace.Span, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if os, ok := rt.open[nodeID]; ok {
		return os.span, true
	}
	return nil, false
}
