package asset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
)

const defaultObjectTimeout = 30 * time.Second

// MinIOStore implements BlobStore on a MinIO bucket. Every call runs under its
// own timeout so a hung request surfaces as a failure.
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
}

// NewMinIOStore constructs an adapter. timeout <= 0 selects a default.
func NewMinIOStore(client *minio.Client, bucket string, timeout time.Duration) *MinIOStore {
	if timeout <= 0 {
		timeout = defaultObjectTimeout
	}
	return &MinIOStore{client: client, bucket: bucket, timeout: timeout}
}

// Put uploads data under key.
func (s *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get downloads the bytes stored under key.
func (s *MinIOStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateObjectError(key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, translateObjectError(key, err)
	}
	return data, nil
}

// Delete removes key. Missing keys are not an error.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func translateObjectError(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("get object %s: %w", key, ErrBlobNotFound)
	}
	return fmt.Errorf("get object %s: %w", key, err)
}
