package flow

import (
	"context"
	"strings"
)

type branchCtxKey struct{}

// WithBranch derives a context scoped to one parallel branch. The host calls
// it once per branch, right before emitting the branch start event, and uses
// the returned context for every event of that branch including its start and
// end. Nested parallels call WithBranch again on the branch context, building
// a path like "integration/linux" that keeps inner branches distinct.
//
// The original execution model attributes events to branches by executing
// thread; the context annotation is the Go equivalent.
func WithBranch(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, branchCtxKey{}, joinBranchPath(BranchPath(ctx), name))
}

// BranchPath returns the branch path carried by ctx. The empty string is the
// main line of execution.
func BranchPath(ctx context.Context) string {
	if v, ok := ctx.Value(branchCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ParentBranchPath returns path without its last segment: the path of the
// execution line that forked the branch.
func ParentBranchPath(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

func joinBranchPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
