package cloudstore

import (
	"io"

	"github.com/google/uuid"
)

// IngestRequest contains the parameters for storing a new object
type IngestRequest struct {
	OwnerID      uuid.UUID
	Name         string
	Reader       io.Reader
	DeclaredSize int64
	MediaType    string
}

// ShareResult reports what a share call did per recipient
type ShareResult struct {
	Created []*ShareRequest `json:"created"`
	// Skipped holds recipients that already had a pending request for the
	// same object from the same sender.
	Skipped []uuid.UUID `json:"skipped"`
}
