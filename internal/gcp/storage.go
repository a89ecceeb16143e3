package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/vitchili/dynadoc-flow/internal/models"
)

// writeTimeout bounds a single object upload.
const writeTimeout = 50 * time.Second

// ObjectStore stores generated artifacts in a GCS bucket.
type ObjectStore struct {
	bucket *storage.BucketHandle
	name   string
}

// NewObjectStore wraps the named bucket.
func NewObjectStore(client *storage.Client, bucket string) *ObjectStore {
	return &ObjectStore{bucket: client.Bucket(bucket), name: bucket}
}

// Put writes r to objectName only if the object doesn't already exist.
// Artifact names are unique, so an existing object is the result of an
// earlier attempt whose acknowledgement was lost.
func (s *ObjectStore) Put(ctx context.Context, objectName string, r io.Reader) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	writer := s.bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
	writer.ContentType = "application/pdf"

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.name, objectName, err)
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "bucket", s.name, "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", s.name, objectName, err)
	}
	return nil
}

// Get reads the whole object.
func (s *ObjectStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	reader, err := s.bucket.Object(objectName).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", s.name, objectName, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.name, objectName, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.name, objectName, err)
	}
	return content, nil
}

// Delete removes the object.
func (s *ObjectStore) Delete(ctx context.Context, objectName string) error {
	err := s.bucket.Object(objectName).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gs://%s/%s: %w", s.name, objectName, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", s.name, objectName, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
