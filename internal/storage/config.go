package storage

import (
	"fmt"
	"strings"
)

// Config selects and configures the remote object store
type Config struct {
	Provider ProviderType `mapstructure:"provider" yaml:"provider"`
	// Prefix is prepended to every object key, e.g. "db-backups/prod".
	Prefix string      `mapstructure:"prefix" yaml:"prefix"`
	S3     S3Config    `mapstructure:"s3" yaml:"s3"`
	Azure  AzureConfig `mapstructure:"azure" yaml:"azure"`
	GCS    GCSConfig   `mapstructure:"gcs" yaml:"gcs"`
}

// S3Config for Amazon S3 or an S3-compatible service
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	// Endpoint overrides the AWS endpoint, for MinIO, R2 and the like.
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// ServiceURL overrides https://<account>.blob.core.windows.net, for Azurite.
	ServiceURL string `mapstructure:"service_url" yaml:"service_url"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
}

// ValidationError describes one invalid configuration field
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(msgs, "; "))
}

// Add appends a validation error
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Enabled reports whether a remote store is configured at all
func (c *Config) Enabled() bool {
	return c.ProviderType() != ProviderNone
}

// ProviderType returns the normalized provider name
func (c *Config) ProviderType() ProviderType {
	return ProviderType(strings.ToLower(strings.TrimSpace(string(c.Provider))))
}

// Validate checks the block for the selected provider only
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch c.ProviderType() {
	case ProviderNone:
		return nil
	case ProviderS3:
		if err := c.S3.Validate(); err != nil {
			return err
		}
	case ProviderAzure:
		if err := c.Azure.Validate(); err != nil {
			return err
		}
	case ProviderGCS:
		if err := c.GCS.Validate(); err != nil {
			return err
		}
	default:
		errs.Add("storage.provider", fmt.Sprintf("unsupported provider %q (expected s3, azure or gcs)", c.Provider))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the S3Config struct. Credentials are optional: without
// them the default AWS credential chain is used.
func (c *S3Config) Validate() error {
	var errs ValidationErrors

	if c.Bucket == "" {
		errs.Add("storage.s3.bucket", "S3 bucket name is required")
	}
	if c.Region == "" {
		errs.Add("storage.s3.region", "S3 region is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		errs.Add("storage.s3.access_key", "access key and secret key must be set together")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the AzureConfig struct
func (c *AzureConfig) Validate() error {
	var errs ValidationErrors

	if c.AccountName == "" {
		errs.Add("storage.azure.account_name", "Azure account name is required")
	}
	if c.AccountKey == "" {
		errs.Add("storage.azure.account_key", "Azure account key is required")
	}
	if c.ContainerName == "" {
		errs.Add("storage.azure.container_name", "Azure container name is required")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Validate validates the GCSConfig struct
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return ValidationErrors{{Field: "storage.gcs.bucket", Message: "GCS bucket name is required"}}
	}
	return nil
}
