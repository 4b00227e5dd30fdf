package minio

import (
	"context"
	"fmt"
	"io"

	"seekcap-controlplane/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient, NewObjectStore))

// registerClient returns nil when no endpoint is configured. Exports then
// fail with a clear error instead of blocking boot.
func registerClient(c *config.Config) (*minio.Client, error) {
	if c.Minio.Endpoint == "" {
		zap.L().Warn("MinIO endpoint not configured, object export disabled")
		return nil, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Error("failed to create MinIO client", zap.Error(err))
		return nil, err
	}

	exists, err := client.BucketExists(context.Background(), c.Minio.BucketName)
	if err != nil {
		zap.L().Warn("failed to check if bucket exists", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
	}
	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.Bool("bucketExists", exists))
	return client, nil
}

// ObjectStore is the narrow surface the audit export needs.
type ObjectStore interface {
	// Put uploads body under key. A negative size streams body as a
	// multipart upload until EOF.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

type objectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore returns nil without a client so callers can report the
// feature as unavailable.
func NewObjectStore(client *minio.Client, c *config.Config) ObjectStore {
	if client == nil {
		return nil
	}
	return &objectStore{client: client, bucket: c.Minio.BucketName}
}

// Put uploads body under key and returns its s3 style location.
func (s *objectStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("object storage is not configured")
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("s3://%s/%s", info.Bucket, info.Key), nil
}
