package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore implements ObjectStore for Google Cloud Storage
type GCSStore struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSStore creates a new GCSStore instance. Without a credentials path the
// application default credentials are used.
func NewGCSStore(ctx context.Context, config *GCSConfig, prefix string) (*GCSStore, error) {
	if config == nil {
		return nil, ValidationErrors{{Field: "storage.gcs", Message: "GCS storage configuration is required"}}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, newStorageError(ProviderGCS, "client", "", err)
	}

	return &GCSStore{
		client:     client,
		bucketName: config.Bucket,
		prefix:     prefix,
	}, nil
}

// Location implements ObjectStore
func (g *GCSStore) Location() string {
	return fmt.Sprintf("gs://%s/%s", g.bucketName, joinKey(g.prefix, ""))
}

// List implements ObjectStore
func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := g.client.Bucket(g.bucketName).Objects(ctx, &storage.Query{Prefix: joinKey(g.prefix, prefix)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, newStorageError(ProviderGCS, "list", prefix, err)
		}
		objects = append(objects, ObjectInfo{
			Key:          relativeKey(g.prefix, attrs.Name),
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}

	sortObjects(objects)
	return objects, nil
}

// Read implements ObjectStore
func (g *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(ProviderGCS, "read", key); err != nil {
		return nil, err
	}

	reader, err := g.client.Bucket(g.bucketName).Object(joinKey(g.prefix, key)).NewReader(ctx)
	if err != nil {
		return nil, newStorageError(ProviderGCS, "read", key, translateGCSError(err))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, newStorageError(ProviderGCS, "read", key, err)
	}
	return data, nil
}

// Write implements ObjectStore
func (g *GCSStore) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(ProviderGCS, "write", key); err != nil {
		return err
	}

	writer := g.client.Bucket(g.bucketName).Object(joinKey(g.prefix, key)).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return newStorageError(ProviderGCS, "write", key, err)
	}
	// the upload is only committed by Close
	if err := writer.Close(); err != nil {
		return newStorageError(ProviderGCS, "write", key, err)
	}
	return nil
}

// Delete implements ObjectStore
func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(ProviderGCS, "delete", key); err != nil {
		return err
	}

	if err := g.client.Bucket(g.bucketName).Object(joinKey(g.prefix, key)).Delete(ctx); err != nil {
		return newStorageError(ProviderGCS, "delete", key, translateGCSError(err))
	}
	return nil
}

// Close releases the underlying client
func (g *GCSStore) Close() error {
	return g.client.Close()
}

func translateGCSError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
