package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/pavelanni/trilma/internal/model"
)

// GCS stores documents in a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCS opens a client for bucketName using application default credentials.
func NewGCS(ctx context.Context, bucketName string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucketName)}, nil
}

// Upload writes data under a fresh id. The object must not already exist.
func (g *GCS) Upload(ctx context.Context, namespace string, data []byte) (string, error) {
	id := newID()
	name := objectName(namespace, id)

	w := g.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/pdf"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("object %s already exists: %w", name, err)
		}
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	slog.Debug("uploaded object", "object", name, "bytes", len(data))
	return id, nil
}

// Fetch reads a stored document.
func (g *GCS) Fetch(ctx context.Context, namespace, id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	name := objectName(namespace, id)
	r, err := g.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Delete removes a stored document. Deleting a missing object is not an error.
func (g *GCS) Delete(ctx context.Context, namespace, id string) error {
	name := objectName(namespace, id)
	err := g.bucket.Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
