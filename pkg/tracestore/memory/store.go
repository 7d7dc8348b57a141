// Package memory implements tracestore.Store in memory, for tests and
// single-process hosts.
package memory

import (
	"context"
	"sync"

	"github.com/aretw0/tendril/pkg/tracestore"
)

// Store implements tracestore.Store in memory.
// Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]tracestore.Ref
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]tracestore.Ref),
	}
}

// Save persists the ref in memory.
func (s *Store) Save(ctx context.Context, runID string, ref tracestore.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[runID] = ref
	return nil
}

// Load retrieves the ref from memory.
func (s *Store) Load(ctx context.Context, runID string) (tracestore.Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.data[runID]
	if !ok {
		return tracestore.Ref{}, tracestore.ErrNotFound
	}
	return ref, nil
}

// Delete removes the ref.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}
