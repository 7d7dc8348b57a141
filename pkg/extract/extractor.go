// Package extract enriches step spans with semantic attributes. Extractors
// are capability-matched: each one recognizes a kind of step (a source
// control checkout, for instance) and contributes a span name and attributes
// for it. Steps nothing recognizes get a generic span named after the step.
package extract

import (
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/flow"
)

// Result is what an extractor contributes to a step span.
type Result struct {
	// SpanName replaces the default span name when non-empty.
	SpanName string
	// Attrs are set on the span.
	Attrs []attribute.KeyValue
}

// Extractor recognizes and enriches one kind of step.
//
// Implementations are stateless and registered once at startup. Match must be
// cheap: it runs for every atomic step of every run. An Extract error means
// the step was recognized but its arguments could not be interpreted; the
// registry degrades to the generic result, it never fails the step.
type Extractor interface {
	Match(node *flow.Node) bool
	Extract(node *flow.Node) (Result, error)
}

// Registry resolves nodes against an ordered extractor chain: first match
// wins, and a node no extractor matches falls back to a generic result named
// after the step.
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
	logger     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the structured logger for extraction warnings.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends extractors to the chain. Order matters: Resolve consults
// extractors in registration order and stops at the first match.
func (r *Registry) Register(extractors ...Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, extractors...)
}

// Resolve computes the span name and attributes for a node. It never fails:
// a failing extractor is logged and the node degrades to the generic result.
func (r *Registry) Resolve(node *flow.Node) Result {
	r.mu.RLock()
	chain := r.extractors
	r.mu.RUnlock()

	for _, e := range chain {
		if !e.Match(node) {
			continue
		}
		res, err := e.Extract(node)
		if err != nil {
			r.logger.Warn("attribute extraction failed, using generic span",
				"step", node.Name,
				"node_id", node.ID,
				"error", err,
			)
			break
		}
		if res.SpanName == "" {
			res.SpanName = node.Name
		}
		return res
	}

	return Result{SpanName: node.Name}
}
