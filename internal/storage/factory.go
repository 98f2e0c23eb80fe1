package storage

import (
	"context"
	"fmt"
)

// NewRemoteStore builds the remote store selected by config. It returns
// (nil, nil) when no provider is configured.
func NewRemoteStore(ctx context.Context, config Config) (ObjectStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store ObjectStore
		err   error
	)
	switch config.ProviderType() {
	case ProviderNone:
		return nil, nil
	case ProviderS3:
		store, err = NewS3Store(&config.S3, config.Prefix)
	case ProviderAzure:
		store, err = NewAzureStore(&config.Azure, config.Prefix)
	case ProviderGCS:
		store, err = NewGCSStore(ctx, &config.GCS, config.Prefix)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", config.Provider)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// SupportedProviders lists the remote providers NewRemoteStore accepts
func SupportedProviders() []ProviderType {
	return []ProviderType{ProviderS3, ProviderAzure, ProviderGCS}
}
