package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tendant/simple-cloud/pkg/cloudstore"
	"github.com/tendant/simple-cloud/pkg/cloudstore/objectkey"
)

type blob struct {
	data      []byte
	mimeType  string
	updatedAt time.Time
}

// Backend is an in-memory implementation of the cloudstore.BlobStore interface
type Backend struct {
	mu    sync.RWMutex
	blobs map[string]blob
	areas map[string]struct{}
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		blobs: make(map[string]blob),
		areas: make(map[string]struct{}),
	}
}

var _ cloudstore.BlobStore = (*Backend)(nil)

// EnsureArea records the segment; memory areas need no preparation.
func (b *Backend) EnsureArea(ctx context.Context, segment string) error {
	if !objectkey.ValidSegment(segment) {
		return fmt.Errorf("invalid area segment %q", segment)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.areas[segment] = struct{}{}
	return nil
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*cloudstore.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.blobs[objectKey]
	if !exists {
		return nil, fmt.Errorf("%w: %s", cloudstore.ErrBlobNotFound, objectKey)
	}

	return &cloudstore.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(obj.data)),
		ContentType: obj.mimeType,
		UpdatedAt:   obj.updatedAt,
		Metadata:    map[string]string{"mime_type": obj.mimeType},
	}, nil
}

// Upload uploads content directly
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, cloudstore.UploadParams{ObjectKey: objectKey})
}

// UploadWithParams uploads content with parameters. Nothing is stored unless
// the whole stream is read.
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params cloudstore.UploadParams) error {
	if !objectkey.ValidKey(params.ObjectKey) {
		return fmt.Errorf("invalid object key %q", params.ObjectKey)
	}
	data, err := io.ReadAll(cloudstore.NewContextReader(ctx, reader))
	if err != nil {
		return err
	}

	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[params.ObjectKey] = blob{data: data, mimeType: mimeType, updatedAt: time.Now().UTC()}
	return nil
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.blobs[objectKey]
	if !exists {
		return nil, fmt.Errorf("%w: %s", cloudstore.ErrBlobNotFound, objectKey)
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.blobs[objectKey]; !exists {
		return fmt.Errorf("%w: %s", cloudstore.ErrBlobNotFound, objectKey)
	}

	delete(b.blobs, objectKey)
	return nil
}

// Len returns the number of stored blobs.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// Keys returns every stored key.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.blobs))
	for k := range b.blobs {
		keys = append(keys, k)
	}
	return keys
}
