package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"

	"jewelry-scraper/pkg/utils"
)

// GCSBlobStore writes artifacts to a Google Cloud Storage bucket. Selected
// with storage_backend: gcs; credentials come from the usual application
// default chain.
type GCSBlobStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSBlobStore creates a GCS-backed blob store.
func NewGCSBlobStore(client *gcs.Client, bucket string) (*GCSBlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: GCS client is required", utils.ErrConfigValidation)
	}
	if bucket == "" {
		return nil, fmt.Errorf("%w: gcs_bucket is required with the gcs backend", utils.ErrConfigValidation)
	}
	return &GCSBlobStore{client: client, bucket: bucket}, nil
}

// Put uploads data to the bucket and returns a gs:// URI.
func (s *GCSBlobStore) Put(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: blob path is required", utils.ErrFilesystem)
	}

	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", fmt.Errorf("writing object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing object %s: %w", path, err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Get reads the object stored under path.
func (s *GCSBlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", path, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", path, err)
	}
	return data, nil
}
