package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Blob is durable blob storage with directory semantics. Paths are
// slash-separated and relative to the store root.
type Blob interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	// List returns the entry names directly under dir. A missing directory
	// lists as empty rather than failing.
	List(ctx context.Context, dir string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// FS is a filesystem-backed Blob rooted at a directory.
type FS struct {
	root string
}

// NewFS creates the root directory if needed and returns a filesystem store.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &FS{root: root}, nil
}

// Root returns the absolute base directory of the store.
func (f *FS) Root() string { return f.root }

func (f *FS) resolve(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

// Write persists data atomically: a temp file in the target directory is
// renamed over the destination, so readers never observe a torn write.
func (f *FS) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := f.resolve(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

func (f *FS) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (f *FS) List(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.resolve(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (f *FS) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.resolve(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}
