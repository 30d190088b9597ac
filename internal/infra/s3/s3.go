package s3

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewClient(cfg Config) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return client, nil
}

// CheckBucket fails when the publication bucket is missing. Publication files
// are uploaded out of band, so the bucket is never created here.
func CheckBucket(ctx context.Context, client *minio.Client, bucket string) error {
	if client == nil {
		return fmt.Errorf("s3 client is nil")
	}
	if bucket == "" {
		return fmt.Errorf("s3 bucket is empty")
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check s3 bucket %q: %w", bucket, err)
	}
	if !exists {
		return fmt.Errorf("s3 bucket %q does not exist", bucket)
	}
	return nil
}
