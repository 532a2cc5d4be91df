package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileKV stores one file per key under a directory.
type FileKV struct {
	fs  afero.Fs
	dir string
}

// NewFileKV creates a FileKV rooted at dir on fsys. A nil fsys uses the OS
// filesystem.
func NewFileKV(fsys afero.Fs, dir string) (*FileKV, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileKV{fs: fsys, dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

// Get reads the value of key.
func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Put writes value through a temp file and rename so readers never see a
// partial write.
func (f *FileKV) Put(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	path := f.path(key)
	tmp := path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, value, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.fs.Rename(tmp, path); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (f *FileKV) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := f.fs.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op.
func (f *FileKV) Close() error { return nil }
