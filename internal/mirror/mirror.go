package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"imagelab/internal/upload"
)

// Config describes the S3-compatible bucket uploads are mirrored to.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Enabled reports whether enough is configured to mirror anything.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// Mirror copies stored uploads to an S3-compatible bucket and removes them
// again when the sweeper reclaims the local copy.
type Mirror struct {
	client *minio.Client
	bucket string
}

// New creates a Mirror for cfg.
func New(cfg Config) (*Mirror, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mirror endpoint and bucket must be set")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &Mirror{client: client, bucket: cfg.Bucket}, nil
}

// Bucket returns the bucket uploads are mirrored to.
func (m *Mirror) Bucket() string {
	return m.bucket
}

// EnsureBucket checks if the bucket exists, and creates it if it does not.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", m.bucket, err)
		}
	}
	return nil
}

// Put uploads the stored file to the bucket under its stored name.
func (m *Mirror) Put(ctx context.Context, file upload.StoredFile, contentType string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, file.Filename, file.Path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to mirror %q to bucket %q: %w", file.Filename, m.bucket, err)
	}

	slog.Debug("Mirrored upload", "name", file.Filename, "bucket", m.bucket)
	return nil
}

// Forget removes the mirrored copy of name.
func (m *Mirror) Forget(ctx context.Context, name string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %q from bucket %q: %w", name, m.bucket, err)
	}
	return nil
}
