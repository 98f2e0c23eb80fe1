package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStore implements ObjectStore for Azure Blob Storage
type AzureStore struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureStore creates a new AzureStore instance
func NewAzureStore(config *AzureConfig, prefix string) (*AzureStore, error) {
	if config == nil {
		return nil, ValidationErrors{{Field: "storage.azure", Message: "Azure storage configuration is required"}}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, newStorageError(ProviderAzure, "credentials", "", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	rawURL := config.ServiceURL
	if rawURL == "" {
		rawURL = fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName)
	}
	serviceURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, newStorageError(ProviderAzure, "parse service url", "", err)
	}

	return &AzureStore{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        prefix,
	}, nil
}

// Location implements ObjectStore
func (a *AzureStore) Location() string {
	return fmt.Sprintf("azure://%s/%s", a.containerName, joinKey(a.prefix, ""))
}

// List implements ObjectStore
func (a *AzureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := a.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: joinKey(a.prefix, prefix),
		})
		if err != nil {
			return nil, newStorageError(ProviderAzure, "list", prefix, err)
		}

		for _, blob := range resp.Segment.BlobItems {
			info := ObjectInfo{
				Key:          relativeKey(a.prefix, blob.Name),
				LastModified: blob.Properties.LastModified,
			}
			if blob.Properties.ContentLength != nil {
				info.Size = *blob.Properties.ContentLength
			}
			objects = append(objects, info)
		}
		marker = resp.NextMarker
	}

	sortObjects(objects)
	return objects, nil
}

// Read implements ObjectStore
func (a *AzureStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(ProviderAzure, "read", key); err != nil {
		return nil, err
	}

	blobURL := a.containerURL.NewBlockBlobURL(joinKey(a.prefix, key))
	resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, newStorageError(ProviderAzure, "read", key, translateAzureError(err))
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, newStorageError(ProviderAzure, "read", key, err)
	}
	return data, nil
}

// Write implements ObjectStore
func (a *AzureStore) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(ProviderAzure, "write", key); err != nil {
		return err
	}

	blobURL := a.containerURL.NewBlockBlobURL(joinKey(a.prefix, key))
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 16,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return newStorageError(ProviderAzure, "write", key, err)
	}
	return nil
}

// Delete implements ObjectStore
func (a *AzureStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(ProviderAzure, "delete", key); err != nil {
		return err
	}

	blobURL := a.containerURL.NewBlockBlobURL(joinKey(a.prefix, key))
	if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
		return newStorageError(ProviderAzure, "delete", key, translateAzureError(err))
	}
	return nil
}

func translateAzureError(err error) error {
	var serr azblob.StorageError
	if errors.As(err, &serr) && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
