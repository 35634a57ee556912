// File: internal/learning/filestore.go
package learning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore persists the learning record as a JSON file. Writes go through a
// temp file and rename so a crash mid-save never corrupts the record.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed persister at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the record from disk. A missing file yields an empty record.
func (f *FileStore) Load(_ context.Context) (Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRecord(), nil
		}
		return Record{}, fmt.Errorf("failed to read learning file '%s': %w", f.path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode learning file '%s': %w", f.path, err)
	}
	return rec, nil
}

// Save writes the record to disk atomically.
func (f *FileStore) Save(_ context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode learning record: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create learning dir '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".learning-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp learning file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write learning file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close learning file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace learning file '%s': %w", f.path, err)
	}
	return nil
}
