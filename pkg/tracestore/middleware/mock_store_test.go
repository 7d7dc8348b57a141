package middleware_test

import (
	"context"

	"github.com/aretw0/tendril/pkg/tracestore"
)

// countingStore is a map-based store that counts calls, for asserting which
// operations reach the backend through a middleware stack.
type countingStore struct {
	data map[string]tracestore.Ref

	saves   int
	loads   int
	deletes int

	failNext error
}

func newCountingStore() *countingStore {
	return &countingStore{data: make(map[string]tracestore.Ref)}
}

func (s *countingStore) Save(ctx context.Context, runID string, ref tracestore.Ref) error {
	s.saves++
	if s.failNext != nil {
		return s.takeError()
	}
	s.data[runID] = ref
	return nil
}

func (s *countingStore) Load(ctx context.Context, runID string) (tracestore.Ref, error) {
	s.loads++
	if s.failNext != nil {
		return tracestore.Ref{}, s.takeError()
	}
	ref, ok := s.data[runID]
	if !ok {
		return tracestore.Ref{}, tracestore.ErrNotFound
	}
	return ref, nil
}

func (s *countingStore) Delete(ctx context.Context, runID string) error {
	s.deletes++
	if s.failNext != nil {
		return s.takeError()
	}
	delete(s.data, runID)
	return nil
}

func (s *countingStore) takeError() error {
	err := s.failNext
	s.failNext = nil
	return err
}

var _ tracestore.Store = (*countingStore)(nil)
