package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ Uploader = (*MinioUploader)(nil)

// MinioConfig holds the connection settings for a MinIO (or any
// S3-compatible) endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinioUploader implements Uploader on top of a MinIO client.
type MinioUploader struct {
	client *minio.Client
	logger *slog.Logger
}

// MinioOption configures a MinioUploader.
type MinioOption func(*MinioUploader)

// WithMinioLogger sets the logger used for upload diagnostics.
func WithMinioLogger(logger *slog.Logger) MinioOption {
	return func(u *MinioUploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// NewMinioUploader connects to the configured endpoint.
func NewMinioUploader(cfg MinioConfig, opts ...MinioOption) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect minio: %w", err)
	}

	u := &MinioUploader{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// NewMinioUploaderFromClient wraps an existing client, used in tests.
func NewMinioUploaderFromClient(client *minio.Client, opts ...MinioOption) *MinioUploader {
	u := &MinioUploader{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// EnsureBucket implements Uploader.
func (u *MinioUploader) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := u.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("storage: check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
	}
	u.logger.Info("created bucket", "bucket", bucket)
	return nil
}

// UploadFile implements Uploader.
func (u *MinioUploader) UploadFile(ctx context.Context, bucket, objectName, filePath string) (int64, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("storage: open %s: %w", filePath, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", filePath, err)
	}

	info, err := u.client.PutObject(ctx, bucket, objectName, f, stat.Size(), minio.PutObjectOptions{
		ContentType: ContentTypeFor(objectName),
	})
	if err != nil {
		return 0, fmt.Errorf("storage: upload %s: %w", objectName, err)
	}

	u.logger.Debug("uploaded object",
		"bucket", bucket,
		"object", objectName,
		"size", info.Size)
	return info.Size, nil
}

// PresignedURL implements Uploader.
func (u *MinioUploader) PresignedURL(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	url, err := u.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", objectName, err)
	}
	return url.String(), nil
}
