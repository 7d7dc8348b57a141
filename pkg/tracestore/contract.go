package tracestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store
// implementation adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	runID := "contract-test-run-" + time.Now().Format("20060102150405")

	ref := Ref{
		TraceID: "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:  "00f067aa0ba902b7",
	}

	t.Run("Save and Load", func(t *testing.T) {
		err := store.Save(ctx, runID, ref)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, ref, loaded)
	})

	t.Run("Save Replaces", func(t *testing.T) {
		updated := Ref{TraceID: ref.TraceID, SpanID: "53995c3f42cd8ad8"}
		require.NoError(t, store.Save(ctx, runID, updated))

		loaded, err := store.Load(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, updated, loaded)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, runID, ref))

		err := store.Delete(ctx, runID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, runID)
		assert.ErrorIs(t, err, ErrNotFound, "Load after Delete should return ErrNotFound")
	})

	t.Run("Delete Non-Existent", func(t *testing.T) {
		assert.NoError(t, store.Delete(ctx, "non-existent-"+runID))
	})
}
