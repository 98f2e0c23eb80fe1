package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Store implements ObjectStore for Amazon S3 and S3-compatible services
type S3Store struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3Store creates a new S3Store instance
func NewS3Store(config *S3Config, prefix string) (*S3Store, error) {
	if config == nil {
		return nil, ValidationErrors{{Field: "storage.s3", Message: "S3 storage configuration is required"}}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	awsConfig := &aws.Config{
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, newStorageError(ProviderS3, "session", "", err)
	}

	return NewS3StoreWithClient(s3.New(sess), config.Bucket, prefix), nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client s3iface.S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Location implements ObjectStore
func (s *S3Store) Location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, joinKey(s.prefix, ""))
}

// List implements ObjectStore
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(joinKey(s.prefix, prefix)),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				objects = append(objects, ObjectInfo{
					Key:          relativeKey(s.prefix, aws.StringValue(obj.Key)),
					Size:         aws.Int64Value(obj.Size),
					LastModified: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		return nil, newStorageError(ProviderS3, "list", prefix, err)
	}

	sortObjects(objects)
	return objects, nil
}

// Read implements ObjectStore
func (s *S3Store) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(ProviderS3, "read", key); err != nil {
		return nil, err
	}

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		return nil, newStorageError(ProviderS3, "read", key, translateS3Error(err))
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, newStorageError(ProviderS3, "read", key, err)
	}
	return data, nil
}

// Write implements ObjectStore
func (s *S3Store) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(ProviderS3, "write", key); err != nil {
		return err
	}

	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(joinKey(s.prefix, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return newStorageError(ProviderS3, "write", key, err)
	}
	return nil
}

// Delete implements ObjectStore. S3 deletes are idempotent, so a missing key
// is not reported.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(ProviderS3, "delete", key); err != nil {
		return err
	}

	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		return newStorageError(ProviderS3, "delete", key, translateS3Error(err))
	}
	return nil
}

func translateS3Error(err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
		}
	}
	return err
}
