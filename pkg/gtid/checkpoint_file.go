package gtid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileCheckpointStore persists the checkpoint as a JSON file, replaced
// atomically via rename so a crash mid-write never corrupts it.
type FileCheckpointStore struct {
	path string
}

// NewFileCheckpointStore creates a file-backed checkpoint store.
func NewFileCheckpointStore(dataDir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{path: filepath.Join(dataDir, "repl_checkpoint.json")}, nil
}

// Save writes the checkpoint to a temp file and renames it into place.
func (s *FileCheckpointStore) Save(_ context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint. The second return value is false if no
// checkpoint has been written yet.
func (s *FileCheckpointStore) Load(_ context.Context) (Checkpoint, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	return cp, true, nil
}

// Close is a no-op for the file store.
func (s *FileCheckpointStore) Close() error {
	return nil
}
