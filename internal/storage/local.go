package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects as files in a single directory
type LocalStore struct {
	dir string
}

// NewLocalStore creates the directory if needed
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, ValidationErrors{{Field: "backup.dir", Message: "directory is required"}}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, newStorageError(ProviderLocal, "mkdir", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the backing directory
func (l *LocalStore) Dir() string {
	return l.dir
}

// Path returns the file path for key
func (l *LocalStore) Path(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

// Location implements ObjectStore
func (l *LocalStore) Location() string {
	return l.dir
}

// List returns regular files in the directory whose names start with prefix.
// Temp files left behind by interrupted writes start with a dot and are skipped.
func (l *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, newStorageError(ProviderLocal, "list", l.dir, err)
	}

	var objects []ObjectInfo
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, newStorageError(ProviderLocal, "stat", name, err)
		}
		objects = append(objects, ObjectInfo{
			Key:          name,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
	}

	sortObjects(objects)
	return objects, nil
}

// Read implements ObjectStore
func (l *LocalStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(ProviderLocal, "read", key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newStorageError(ProviderLocal, "read", key, ErrObjectNotFound)
		}
		return nil, newStorageError(ProviderLocal, "read", key, err)
	}
	return data, nil
}

// Write stores data atomically: a temp file in the same directory is
// synced and then renamed over key.
func (l *LocalStore) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(ProviderLocal, "write", key); err != nil {
		return err
	}
	if err := WriteFileAtomic(l.Path(key), data); err != nil {
		return newStorageError(ProviderLocal, "write", key, err)
	}
	return nil
}

// Delete implements ObjectStore
func (l *LocalStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(ProviderLocal, "delete", key); err != nil {
		return err
	}
	if err := os.Remove(l.Path(key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newStorageError(ProviderLocal, "delete", key, ErrObjectNotFound)
		}
		return newStorageError(ProviderLocal, "delete", key, err)
	}
	return nil
}

// WriteFileAtomic writes data to path through a dot-prefixed temp file in
// the same directory. On any failure the temp file is removed and path is
// left untouched.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o640); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
