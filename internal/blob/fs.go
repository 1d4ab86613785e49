package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/pavelanni/trilma/internal/model"
)

// FS stores documents on an afero filesystem rooted at a directory.
type FS struct {
	fs afero.Fs
}

// NewFS returns a store rooted at dir on the OS filesystem.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FS{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}, nil
}

// NewMemFS returns an in-memory store, mostly useful in tests.
func NewMemFS() *FS {
	return &FS{fs: afero.NewMemMapFs()}
}

func (s *FS) path(namespace, id string) string {
	return filepath.FromSlash(objectName(namespace, id))
}

// Upload writes data under a fresh id.
func (s *FS) Upload(_ context.Context, namespace string, data []byte) (string, error) {
	id := newID()
	p := s.path(namespace, id)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", namespace, err)
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return id, nil
}

// Fetch reads a stored document.
func (s *FS) Fetch(_ context.Context, namespace, id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.path(namespace, id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", model.ErrNotFound, namespace, id)
	}
	return data, err
}

// Delete removes a stored document. Deleting a missing document is not an error.
func (s *FS) Delete(_ context.Context, namespace, id string) error {
	if err := checkID(id); err != nil {
		return nil
	}
	err := s.fs.Remove(s.path(namespace, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s/%s: %w", namespace, id, err)
	}
	return nil
}
