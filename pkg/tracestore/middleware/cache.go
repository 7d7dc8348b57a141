package middleware

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/tracestore"
)

type cacheMiddleware struct {
	next tracestore.Store

	mu   sync.RWMutex
	refs map[string]tracestore.Ref
}

// NewCacheMiddleware creates a middleware that serves loads from an
// in-process write-through cache. A ref is written once per run and never
// mutated afterwards, so cached entries cannot go stale; deletes evict.
//
// Misses are not cached: another process may save the ref after we looked,
// and a negative entry would hide it.
func NewCacheMiddleware() Middleware {
	return func(next tracestore.Store) tracestore.Store {
		return &cacheMiddleware{
			next: next,
			refs: make(map[string]tracestore.Ref),
		}
	}
}

func (m *cacheMiddleware) Save(ctx context.Context, runID string, ref tracestore.Ref) error {
	if err := m.next.Save(ctx, runID, ref); err != nil {
		return err
	}

	m.mu.Lock()
	m.refs[runID] = ref
	m.mu.Unlock()
	return nil
}

func (m *cacheMiddleware) Load(ctx context.Context, runID string) (tracestore.Ref, error) {
	m.mu.RLock()
	ref, ok := m.refs[runID]
	m.mu.RUnlock()
	if ok {
		return ref, nil
	}

	ref, err := m.next.Load(ctx, runID)
	if err != nil {
		return tracestore.Ref{}, err
	}

	m.mu.Lock()
	m.refs[runID] = ref
	m.mu.Unlock()
	return ref, nil
}

func (m *cacheMiddleware) Delete(ctx context.Context, runID string) error {
	if err := m.next.Delete(ctx, runID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.refs, runID)
	m.mu.Unlock()
	return nil
}
