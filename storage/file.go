package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ruteri/vetkd-access-backend/interfaces"
)

// FileBackend stores each component snapshot as one file in a directory.
type FileBackend struct {
	uri string
	dir string
}

// NewFileBackend creates the directory if needed and returns the backend.
func NewFileBackend(uri, dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("file storage requires a directory path")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory %q: %w", dir, err)
	}
	return &FileBackend{uri: uri, dir: dir}, nil
}

// FetchSnapshot implements Backend.
func (b *FileBackend) FetchSnapshot(component string) ([]byte, error) {
	data, err := os.ReadFile(b.path(component))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("component %s: %w", component, interfaces.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot for %s: %w", component, err)
	}
	return data, nil
}

// StoreSnapshot implements Backend. The write goes through a temporary file
// and a rename so a crash never leaves a torn snapshot behind.
func (b *FileBackend) StoreSnapshot(component string, data []byte) error {
	tmp := b.path(component) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", component, err)
	}
	if err := os.Rename(tmp, b.path(component)); err != nil {
		return fmt.Errorf("committing snapshot for %s: %w", component, err)
	}
	return nil
}

// Available implements Backend.
func (b *FileBackend) Available() bool {
	info, err := os.Stat(b.dir)
	return err == nil && info.IsDir()
}

// Name implements Backend.
func (b *FileBackend) Name() string { return "file" }

// LocationURI implements Backend.
func (b *FileBackend) LocationURI() string { return b.uri }

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) path(component string) string {
	return filepath.Join(b.dir, component+".json")
}
