// Package checkpoint persists loop progress between runs.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"autolearn/internal/logging"
)

// Checkpoint is the resumable state of the loop.
type Checkpoint struct {
	CycleCount int      `json:"cycle_count"`
	Notes      []string `json:"notes"`
}

// Clone returns a deep copy.
func (c Checkpoint) Clone() Checkpoint {
	out := Checkpoint{CycleCount: c.CycleCount, Notes: make([]string, len(c.Notes))}
	copy(out.Notes, c.Notes)
	return out
}

// FileStore reads and writes a checkpoint as JSON at a fixed path.
type FileStore struct {
	path string
}

// NewFileStore creates a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the checkpoint. A missing file yields a zero checkpoint. An
// unreadable or corrupt file also yields a zero checkpoint and is logged,
// so the loop starts fresh instead of refusing to run.
func (s *FileStore) Load() (Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{Notes: []string{}}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil || cp.CycleCount < 0 {
		logging.Get(logging.CategoryCheckpoint).Warn("Checkpoint %s is corrupt, starting fresh: %v", s.path, err)
		return Checkpoint{Notes: []string{}}, nil
	}
	if cp.Notes == nil {
		cp.Notes = []string{}
	}
	logging.Get(logging.CategoryCheckpoint).Debug("Loaded checkpoint: cycle=%d notes=%d", cp.CycleCount, len(cp.Notes))
	return cp, nil
}

// Save overwrites the checkpoint atomically: the new content is written to a
// temporary file in the same directory, synced and renamed over the old one.
func (s *FileStore) Save(cp Checkpoint) error {
	if cp.Notes == nil {
		cp.Notes = []string{}
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	logging.Get(logging.CategoryCheckpoint).Debug("Saved checkpoint: cycle=%d notes=%d", cp.CycleCount, len(cp.Notes))
	return nil
}
