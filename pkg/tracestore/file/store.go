// Package file implements tracestore.Store on the local filesystem, one JSON
// file per run. It suits single-controller hosts that want trace links to
// survive restarts without running Redis.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/tendril/pkg/tracestore"
)

// Store implements tracestore.Store using the local filesystem.
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".tendril/traces".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".tendril", "traces")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(runID string) string {
	return filepath.Join(s.BasePath, runID+".json")
}

// Save persists the ref to a JSON file atomically. It writes to a temporary
// file first, syncs, and then renames it into place.
func (s *Store) Save(ctx context.Context, runID string, ref tracestore.Ref) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure trace directory: %w", err)
	}

	destPath := s.path(runID)

	data, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace ref: %w", err)
	}

	// The temp file lives in the same directory so the rename stays on one
	// filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+runID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // Remove if still exists (not renamed)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists, so remove it first. The
	// delete+rename window is acceptable for CLI usage; a partial file is not.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing trace ref for overwrite: %w", err)
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}

	return nil
}

// Load retrieves the ref from its JSON file.
func (s *Store) Load(ctx context.Context, runID string) (tracestore.Ref, error) {
	if runID == "" {
		return tracestore.Ref{}, fmt.Errorf("runID cannot be empty")
	}

	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return tracestore.Ref{}, tracestore.ErrNotFound
		}
		return tracestore.Ref{}, fmt.Errorf("failed to read trace ref file: %w", err)
	}

	var ref tracestore.Ref
	if err := json.Unmarshal(data, &ref); err != nil {
		return tracestore.Ref{}, fmt.Errorf("failed to unmarshal trace ref: %w", err)
	}

	return ref, nil
}

// Delete removes the ref file. Deleting a missing ref is not an error.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	err := os.Remove(s.path(runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace ref file: %w", err)
	}

	return nil
}

var _ tracestore.Store = (*Store)(nil)
