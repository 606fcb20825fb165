package cloudstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the object or share does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded indicates the principal's ceiling would be exceeded
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrPayloadTooLarge indicates a payload above the per-object limit
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrInvalidRecipient indicates an unknown or empty recipient set
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrTooManyRecipients indicates a share call above the recipient limit
	ErrTooManyRecipients = errors.New("too many recipients")

	// ErrInvalidState indicates a share request that is no longer pending
	ErrInvalidState = errors.New("invalid share state")

	// ErrSourceGone indicates the source object of a share was removed
	ErrSourceGone = errors.New("share source no longer exists")

	// ErrStorageFault indicates the blob store or catalog failed
	ErrStorageFault = errors.New("storage fault")

	// ErrInvalidName indicates a display name that is empty, too long or
	// contains path elements
	ErrInvalidName = errors.New("invalid display name")

	// ErrInvalidPrincipal indicates a nil principal id
	ErrInvalidPrincipal = errors.New("invalid principal")

	// ErrSizeMismatch indicates the stream length differs from the declared size
	ErrSizeMismatch = errors.New("payload size does not match declared size")

	// ErrAlreadyExists is returned by repositories on duplicate keys
	ErrAlreadyExists = errors.New("already exists")

	// ErrBlobNotFound is returned by blob stores for missing keys
	ErrBlobNotFound = errors.New("blob not found")
)

// ObjectError represents an error related to content object operations
type ObjectError struct {
	ObjectID uuid.UUID
	Op       string
	Err      error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("object operation %s failed for object %s: %v", e.Op, e.ObjectID, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ShareError represents an error related to share request operations
type ShareError struct {
	ShareID uuid.UUID
	Op      string
	Err     error
}

func (e *ShareError) Error() string {
	if e.ShareID == uuid.Nil {
		return fmt.Sprintf("share operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("share operation %s failed for share %s: %v", e.Op, e.ShareID, e.Err)
}

func (e *ShareError) Unwrap() error {
	return e.Err
}

// StorageError represents a blob store or catalog failure. It always matches
// ErrStorageFault.
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFault
}

// RecipientError lists the recipients that failed validation.
type RecipientError struct {
	Unknown []uuid.UUID
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("%v: %d unknown recipient(s) %v", ErrInvalidRecipient, len(e.Unknown), e.Unknown)
}

func (e *RecipientError) Unwrap() error {
	return ErrInvalidRecipient
}

var passthrough = []error{
	ErrNotFound, ErrInvalidState, ErrQuotaExceeded, ErrSourceGone, ErrInvalidRecipient,
	ErrAlreadyExists, ErrStorageFault, context.Canceled, context.DeadlineExceeded,
}

// catalogFault wraps an unexpected repository error so callers see
// ErrStorageFault. Domain sentinels pass through untouched.
func catalogFault(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range passthrough {
		if errors.Is(err, known) {
			return err
		}
	}
	return &StorageError{Backend: "catalog", Op: op, Err: err}
}
