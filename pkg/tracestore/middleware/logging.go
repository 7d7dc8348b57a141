package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aretw0/tendril/pkg/tracestore"
)

type loggingMiddleware struct {
	next   tracestore.Store
	logger *slog.Logger
}

// NewLoggingMiddleware creates a middleware that logs store operations:
// successes at debug level, failures at warn. A Load miss is an expected
// outcome and stays at debug.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next tracestore.Store) tracestore.Store {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

func (m *loggingMiddleware) Save(ctx context.Context, runID string, ref tracestore.Ref) error {
	if err := m.next.Save(ctx, runID, ref); err != nil {
		m.logger.Warn("trace ref save failed", "run_id", runID, "err", err)
		return err
	}
	m.logger.Debug("trace ref saved", "run_id", runID, "trace_id", ref.TraceID)
	return nil
}

func (m *loggingMiddleware) Load(ctx context.Context, runID string) (tracestore.Ref, error) {
	ref, err := m.next.Load(ctx, runID)
	switch {
	case errors.Is(err, tracestore.ErrNotFound):
		m.logger.Debug("trace ref not found", "run_id", runID)
	case err != nil:
		m.logger.Warn("trace ref load failed", "run_id", runID, "err", err)
	default:
		m.logger.Debug("trace ref loaded", "run_id", runID, "trace_id", ref.TraceID)
	}
	return ref, err
}

func (m *loggingMiddleware) Delete(ctx context.Context, runID string) error {
	if err := m.next.Delete(ctx, runID); err != nil {
		m.logger.Warn("trace ref delete failed", "run_id", runID, "err", err)
		return err
	}
	m.logger.Debug("trace ref deleted", "run_id", runID)
	return nil
}
