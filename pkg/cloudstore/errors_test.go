package cloudstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestStorageErrorMatchesFault(t *testing.T) {
	cause := errors.New("disk full")
	err := &StorageError{Backend: "blob", Key: "k", Op: "upload", Err: cause}

	assert.ErrorIs(t, err, ErrStorageFault)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upload")

	wrapped := &ObjectError{ObjectID: uuid.New(), Op: "ingest", Err: err}
	assert.ErrorIs(t, wrapped, ErrStorageFault)
}

func TestCatalogFault(t *testing.T) {
	assert.NoError(t, catalogFault("op", nil))

	for _, sentinel := range []error{ErrNotFound, ErrInvalidState, ErrQuotaExceeded, context.Canceled} {
		err := fmt.Errorf("wrapped: %w", sentinel)
		assert.Same(t, err, catalogFault("op", err))
	}

	err := catalogFault("list", errors.New("connection refused"))
	var se *StorageError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "catalog", se.Backend)
	assert.ErrorIs(t, err, ErrStorageFault)
}

func TestShareAndRecipientErrors(t *testing.T) {
	err := &ShareError{Op: "share", Err: &RecipientError{Unknown: []uuid.UUID{uuid.New()}}}
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	assert.Contains(t, err.Error(), "share operation share failed")

	id := uuid.New()
	err = &ShareError{ShareID: id, Op: "accept", Err: ErrSourceGone}
	assert.ErrorIs(t, err, ErrSourceGone)
	assert.Contains(t, err.Error(), id.String())
}
