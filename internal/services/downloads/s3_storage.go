package downloads

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
)

type S3Storage struct {
	client *minio.Client
	bucket string
}

func NewS3Storage(client *minio.Client, bucket string) *S3Storage {
	return &S3Storage{
		client: client,
		bucket: strings.TrimSpace(bucket),
	}
}

// Open returns the object body and its size. The caller closes the body.
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if s.client == nil {
		return nil, 0, fmt.Errorf("s3 client is nil")
	}
	if key == "" {
		return nil, 0, ErrFileNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object from s3: %w", err)
	}

	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, ErrFileNotFound
		}
		return nil, 0, fmt.Errorf("stat s3 object: %w", err)
	}

	return obj, info.Size, nil
}
