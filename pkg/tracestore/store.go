// Package tracestore persists the mapping from a pipeline run to the trace
// that observed it, so hosts can link run pages to traces long after the run
// finished. Implementations live in the subpackages memory, file and redis;
// the middleware subpackage decorates any of them.
package tracestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no trace ref exists for a run ID.
var ErrNotFound = errors.New("trace ref not found")

// Ref locates the root span of a run's trace.
type Ref struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// Store persists trace refs keyed by run ID.
type Store interface {
	// Save persists the ref for a run, replacing any previous one.
	Save(ctx context.Context, runID string, ref Ref) error

	// Load retrieves the ref for a run.
	// Returns ErrNotFound if the run has none.
	Load(ctx context.Context, runID string) (Ref, error)

	// Delete removes the ref for a run.
	Delete(ctx context.Context, runID string) error
}
