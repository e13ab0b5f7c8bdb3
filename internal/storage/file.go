package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File stores the artifact as a single file on the local filesystem.
// Writes go to a temporary file in the same directory that is then renamed
// over the target, so readers never observe a partially written snapshot.
type File struct {
	path string
}

// NewFile returns a File backend for path, creating the parent directory.
func NewFile(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	return &File{path: abs}, nil
}

// Path returns the absolute path of the artifact.
func (f *File) Path() string {
	return f.path
}

func (f *File) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: read %s: %w", f.path, ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

func (f *File) Write(_ context.Context, data []byte) error {
	dir, base := filepath.Split(f.path)
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Delete removes the file. A missing file is not an error.
func (f *File) Delete(_ context.Context) error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Archive writes data next to the artifact with CorruptSuffix appended.
func (f *File) Archive(_ context.Context, data []byte) error {
	return os.WriteFile(f.path+CorruptSuffix, data, 0o644)
}

var (
	_ Backend  = (*File)(nil)
	_ Archiver = (*File)(nil)
)
