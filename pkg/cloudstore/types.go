package cloudstore

import (
	"time"

	"github.com/google/uuid"
)

const (
	KiB int64 = 1 << 10
	MiB int64 = 1 << 20
	GiB int64 = 1 << 30
)

// ShareStatus is the lifecycle state of a share request.
type ShareStatus string

const (
	ShareStatusPending  ShareStatus = "pending"
	ShareStatusAccepted ShareStatus = "accepted"
	ShareStatusRejected ShareStatus = "rejected"
	// ShareStatusVoid marks a request whose source object was removed while
	// it was still pending. It is terminal and behaves like a rejection.
	ShareStatusVoid ShareStatus = "void"
)

// IsTerminal reports whether no further transition is allowed.
func (s ShareStatus) IsTerminal() bool {
	return s != ShareStatusPending
}

// ContentObject is a stored file owned by exactly one principal.
type ContentObject struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	DisplayName string    `json:"display_name"`
	// Location is the blob store key. It is never serialised.
	Location  string     `json:"-"`
	SizeBytes int64      `json:"size_bytes"`
	MediaType string     `json:"media_type"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"-"`
}

// ShareRequest is an offer from a sender to copy one of their objects to a
// recipient.
type ShareRequest struct {
	ID             uuid.UUID   `json:"id"`
	SourceObjectID uuid.UUID   `json:"source_object_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	RecipientID    uuid.UUID   `json:"recipient_id"`
	Status         ShareStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}

// IncomingShare is a share request as seen by its recipient, decorated with
// details of the source object when it still exists.
type IncomingShare struct {
	ShareRequest
	SourceAvailable bool   `json:"source_available"`
	FileName        string `json:"file_name"`
	FileSize        int64  `json:"file_size"`
	MediaType       string `json:"media_type"`
}

// Principal is a directory entry offered as a share recipient.
type Principal struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
}

// StorageArea is the per-principal storage root. Segment is system generated
// and never derived from user input.
type StorageArea struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	Segment   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageSummary reports a principal's consumption against the ceiling.
type UsageSummary struct {
	ConsumedBytes int64 `json:"consumed_bytes"`
	CeilingBytes  int64 `json:"ceiling_bytes"`
	ObjectCount   int   `json:"object_count"`
}

// PercentUsed returns consumption as a percentage of the ceiling.
func (u UsageSummary) PercentUsed() float64 {
	if u.CeilingBytes <= 0 {
		return 0
	}
	return float64(u.ConsumedBytes) * 100 / float64(u.CeilingBytes)
}

// MaxRecipientMatches caps a recipient search.
const MaxRecipientMatches = 10

// Limits bounds object sizes, total consumption and share fan-out.
type Limits struct {
	MaxObjectBytes    int64
	QuotaCeilingBytes int64
	MaxRecipients     int
}

// DefaultLimits returns 5 GiB per object, 5 GiB per principal and 50
// recipients per share call.
func DefaultLimits() Limits {
	return Limits{
		MaxObjectBytes:    5 * GiB,
		QuotaCeilingBytes: 5 * GiB,
		MaxRecipients:     50,
	}
}

// ObjectMeta is what a blob store knows about a stored key.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	Metadata    map[string]string
}

// UploadParams carries the key and declared attributes of an upload.
type UploadParams struct {
	ObjectKey string
	MimeType  string
	Size      int64
}

// Notification is delivered to a principal when something happens to a share
// addressed to them.
type Notification struct {
	Kind           string    `json:"kind"`
	ShareID        uuid.UUID `json:"share_id"`
	SourceObjectID uuid.UUID `json:"source_object_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	RecipientID    uuid.UUID `json:"recipient_id"`
	FileName       string    `json:"file_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// NotificationShareOffered is the kind sent to recipients of a new share.
const NotificationShareOffered = "share.offered"
