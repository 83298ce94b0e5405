package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

var (
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errNilClient      = errors.New("storage: client is required")
	errEmptyPayload   = errors.New("storage: payload is empty")
	errNoContentType  = errors.New("storage: content type is required")
	errNotInitialised = errors.New("storage: blob store is not initialised")
)

// BlobStore provides upload, existence, and download operations against a
// single Cloud Storage bucket.
type BlobStore struct {
	client *gcs.Client
	bucket string
}

// NewBlobStore constructs a BlobStore bound to the given bucket.
func NewBlobStore(client *gcs.Client, bucket string) (*BlobStore, error) {
	if client == nil {
		return nil, errNilClient
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errInvalidBucket
	}
	return &BlobStore{client: client, bucket: strings.TrimSpace(bucket)}, nil
}

// Upload writes the payload to the named object, overwriting any existing
// content. The write is acknowledged only after Close succeeds.
func (s *BlobStore) Upload(ctx context.Context, object string, payload []byte, contentType string) error {
	if s == nil || s.client == nil {
		return errNotInitialised
	}
	name := strings.TrimSpace(object)
	if name == "" {
		return errInvalidObject
	}
	if len(payload) == 0 {
		return errEmptyPayload
	}
	if strings.TrimSpace(contentType) == "" {
		return errNoContentType
	}

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: finalize object %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the named object is present in the bucket.
func (s *BlobStore) Exists(ctx context.Context, object string) (bool, error) {
	if s == nil || s.client == nil {
		return false, errNotInitialised
	}
	name := strings.TrimSpace(object)
	if name == "" {
		return false, errInvalidObject
	}

	_, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: stat object %s: %w", name, err)
	}
	return true, nil
}

// Download reads the full contents of the named object.
func (s *BlobStore) Download(ctx context.Context, object string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, errNotInitialised
	}
	name := strings.TrimSpace(object)
	if name == "" {
		return nil, errInvalidObject
	}

	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: open object %s: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("storage: read object %s: %w", name, err)
	}
	return data, nil
}

// Ping verifies the bucket is reachable, for readiness probes.
func (s *BlobStore) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errNotInitialised
	}
	_, err := s.client.Bucket(s.bucket).Attrs(ctx)
	if err != nil {
		return fmt.Errorf("storage: bucket %s unreachable: %w", s.bucket, err)
	}
	return nil
}
