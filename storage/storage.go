// Package storage persists the engine's local state as independent JSON
// blobs, one file per key. Writes replace the whole document; there are
// no transactions across keys.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound reports an absent key. Callers treat it as a cache miss.
var ErrNotFound = errors.New("storage: key not found")

// Store is a directory of JSON blobs.
type Store struct {
	dir string
}

// New opens (and creates if needed) the blob directory.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Read unmarshals the blob stored under key into v. Returns ErrNotFound
// when the key was never written or has been deleted.
func (s *Store) Read(key string, v interface{}) error {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode blob %s: %w", key, err)
	}
	return nil
}

// Write marshals v and replaces the blob under key. The write goes to a
// temp file first and is moved into place, so readers never observe a
// half-written document.
func (s *Store) Write(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode blob %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to stage blob %s: %w", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to stage blob %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to stage blob %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace blob %s: %w", key, err)
	}
	return nil
}

// Delete removes the blob under key entirely. Deleting an absent key is
// not an error.
func (s *Store) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}
