package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the snapshot as a line-delimited JSON file. Writes go
// to a temp file in the same directory followed by a rename, so a reader
// can never observe a half-written state.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed state store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the persisted snapshot. Missing, empty, or corrupt content
// yields the default snapshot so a broken state file never blocks the
// scheduler.
func (s *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	snap, ok := Decode(data)
	if !ok {
		return NewSnapshot(), nil
	}
	return snap, nil
}

// Save atomically replaces the state file. It reports false without
// touching storage when the serialized content is identical to what is
// already on disk.
func (s *FileStore) Save(_ context.Context, snap *Snapshot) (bool, error) {
	data, err := Encode(snap)
	if err != nil {
		return false, err
	}

	if current, err := os.ReadFile(s.path); err == nil && bytes.Equal(current, data) {
		return false, nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write state temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return false, fmt.Errorf("replace state file: %w", err)
	}
	return true, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
