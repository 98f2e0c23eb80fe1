// Package storage provides the object stores snapshot artifacts are copied
// to and swept from: a local directory, Amazon S3 (or any S3-compatible
// endpoint), Azure Blob Storage and Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Read and Delete when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ProviderType names an object store implementation
type ProviderType string

const (
	ProviderNone  ProviderType = ""
	ProviderLocal ProviderType = "local"
	ProviderS3    ProviderType = "s3"
	ProviderAzure ProviderType = "azure"
	ProviderGCS   ProviderType = "gcs"
)

// ObjectInfo describes one stored object. Key is relative to the store's
// configured prefix.
type ObjectInfo struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// ObjectStore is the narrow interface the snapshot tooling needs from a
// storage backend. Keys are flat names such as
// "backup_20250101_120000.backup.gz".
type ObjectStore interface {
	// List returns the objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// Location describes the store for logs and listings, e.g. "s3://bucket/prefix".
	Location() string
}

// StorageError wraps a failed store operation
type StorageError struct {
	Provider ProviderType
	Op       string
	Key      string
	Err      error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

func newStorageError(provider ProviderType, op, key string, err error) *StorageError {
	return &StorageError{Provider: provider, Op: op, Key: key, Err: err}
}

// joinKey prefixes key with a store prefix, tolerating missing or doubled slashes.
func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// relativeKey strips a store prefix from a full object key.
func relativeKey(prefix, full string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return full
	}
	return strings.TrimPrefix(full, prefix+"/")
}

func sortObjects(objects []ObjectInfo) {
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
}

func validateKey(provider ProviderType, op, key string) error {
	if key == "" || strings.Contains(key, "..") {
		return newStorageError(provider, op, key, errors.New("invalid object key"))
	}
	return nil
}
