package cloudstore

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for byte storage backends
type BlobStore interface {
	// EnsureArea creates the storage root for a segment if needed and
	// restricts it to the service. It is idempotent.
	EnsureArea(ctx context.Context, segment string) error

	// Upload stores the reader's bytes under objectKey. A failed or
	// cancelled upload leaves nothing behind.
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams uploads content with a declared media type and size
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download opens the bytes stored under objectKey
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes objectKey. Missing keys return ErrBlobNotFound.
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for a stored key
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// Repository is the content catalog. It holds no business rules beyond
// referential bookkeeping; every mutation rule lives in the service.
type Repository interface {
	// InTx runs fn against a transactional view of the repository. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	// LockOwner serialises writers for a principal until the surrounding
	// transaction ends.
	LockOwner(ctx context.Context, ownerID uuid.UUID) error

	// LockObject serialises removal and share acceptance of one object
	// until the surrounding transaction ends.
	LockObject(ctx context.Context, objectID uuid.UUID) error

	// Storage areas
	GetArea(ctx context.Context, ownerID uuid.UUID) (*StorageArea, error)
	CreateArea(ctx context.Context, area *StorageArea) error

	// Content objects. Removed objects are invisible to every read.
	CreateObject(ctx context.Context, object *ContentObject) error
	GetObject(ctx context.Context, id uuid.UUID) (*ContentObject, error)
	ListObjectsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*ContentObject, error)
	DeleteObject(ctx context.Context, id uuid.UUID, at time.Time) error
	// GetUsage returns the byte total and count of live objects.
	GetUsage(ctx context.Context, ownerID uuid.UUID) (int64, int, error)

	// Share requests
	// CreateShare returns ErrAlreadyExists when an identical request is
	// already pending.
	CreateShare(ctx context.Context, share *ShareRequest) error
	GetShare(ctx context.Context, id uuid.UUID) (*ShareRequest, error)
	FindPendingShare(ctx context.Context, sourceID, senderID, recipientID uuid.UUID) (*ShareRequest, error)
	ListSharesByRecipient(ctx context.Context, recipientID uuid.UUID, statuses ...ShareStatus) ([]*ShareRequest, error)
	ListSharesBySender(ctx context.Context, senderID uuid.UUID) ([]*ShareRequest, error)
	// TransitionShare moves a request from one status to another and
	// returns ErrInvalidState when it is not currently in from.
	TransitionShare(ctx context.Context, id uuid.UUID, from, to ShareStatus, at time.Time) error
	// VoidPendingShares voids every pending request for a source object.
	VoidPendingShares(ctx context.Context, sourceID uuid.UUID, at time.Time) (int, error)
}

// Directory answers whether a principal exists and finds share recipients.
type Directory interface {
	Exists(ctx context.Context, principalID uuid.UUID) (bool, error)

	// Search matches query against display names and emails, ignoring
	// case. exclude is never returned and at most limit entries are.
	Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*Principal, error)
}

// Notifier delivers a message to a principal. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// EventSink defines the interface for event handling
type EventSink interface {
	// ObjectIngested is fired after an object is committed
	ObjectIngested(ctx context.Context, object *ContentObject) error

	// ObjectRemoved is fired after an object and its bytes are removed
	ObjectRemoved(ctx context.Context, object *ContentObject) error

	// ShareCreated is fired for each newly created share request
	ShareCreated(ctx context.Context, share *ShareRequest) error

	// ShareResolved is fired when a request leaves the pending state
	ShareResolved(ctx context.Context, share *ShareRequest) error
}
