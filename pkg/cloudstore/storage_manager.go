package cloudstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-cloud/pkg/cloudstore/objectkey"
)

// StorageManager owns storage areas and the lifecycle of content objects.
type StorageManager struct {
	repo       Repository
	blobs      BlobStore
	ledger     *QuotaLedger
	limits     Limits
	keys       objectkey.Generator
	principals *keyedLocks
	objects    *keyedLocks
	events     EventSink
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

// afterInsertFunc runs inside the ingest transaction after the object row
// is written. Returning an error rolls the ingest back.
type afterInsertFunc func(ctx context.Context, tx Repository, object *ContentObject) error

// AllocateArea returns the principal's storage area, creating it on first use.
func (m *StorageManager) AllocateArea(ctx context.Context, principal uuid.UUID) (*StorageArea, error) {
	if principal == uuid.Nil {
		return nil, ErrInvalidPrincipal
	}
	unlock, err := m.principals.Lock(ctx, principal)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return m.allocateAreaLocked(ctx, principal)
}

func (m *StorageManager) allocateAreaLocked(ctx context.Context, principal uuid.UUID) (*StorageArea, error) {
	area, err := m.repo.GetArea(ctx, principal)
	if err == nil {
		if err := m.ensureArea(ctx, area.Segment); err != nil {
			return nil, err
		}
		return area, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, catalogFault("get area", err)
	}

	area = &StorageArea{
		OwnerID:   principal,
		Segment:   objectkey.NewSegment(),
		CreatedAt: m.now(),
	}
	if err := m.ensureArea(ctx, area.Segment); err != nil {
		return nil, err
	}
	if err := m.repo.CreateArea(ctx, area); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// Another process allocated it first.
			existing, getErr := m.repo.GetArea(ctx, principal)
			if getErr != nil {
				return nil, catalogFault("get area", getErr)
			}
			return existing, m.ensureArea(ctx, existing.Segment)
		}
		return nil, catalogFault("create area", err)
	}
	return area, nil
}

func (m *StorageManager) ensureArea(ctx context.Context, segment string) error {
	if err := m.blobs.EnsureArea(ctx, segment); err != nil {
		return storageFault("ensure area", segment, err)
	}
	return nil
}

// Ingest stores a new object for req.OwnerID. The bytes and the catalog
// record are committed together or not at all.
func (m *StorageManager) Ingest(ctx context.Context, req IngestRequest) (*ContentObject, error) {
	if err := m.precheck(req); err != nil {
		m.metrics.recordIngest(0, err)
		return nil, err
	}
	unlock, err := m.principals.Lock(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	object, err := m.ingestLocked(ctx, req, nil)
	m.metrics.recordIngest(req.DeclaredSize, err)
	return object, err
}

func (m *StorageManager) precheck(req IngestRequest) error {
	if req.OwnerID == uuid.Nil {
		return ErrInvalidPrincipal
	}
	if err := ValidateDisplayName(req.Name); err != nil {
		return err
	}
	if req.Reader == nil || req.DeclaredSize < 0 {
		return ErrSizeMismatch
	}
	if req.DeclaredSize > m.limits.MaxObjectBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// ingestLocked requires the owner's principal lock.
func (m *StorageManager) ingestLocked(ctx context.Context, req IngestRequest, afterInsert afterInsertFunc) (*ContentObject, error) {
	if err := m.precheck(req); err != nil {
		return nil, err
	}

	area, err := m.allocateAreaLocked(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	exceed, err := m.ledger.WouldExceed(ctx, req.OwnerID, req.DeclaredSize)
	if err != nil {
		return nil, err
	}
	if exceed {
		return nil, ErrQuotaExceeded
	}

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	object := &ContentObject{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		DisplayName: req.Name,
		SizeBytes:   req.DeclaredSize,
		MediaType:   mediaType,
		CreatedAt:   m.now(),
	}
	object.Location = m.keys.GenerateKey(area.Segment, object.ID)

	counter := &countingReader{r: io.LimitReader(req.Reader, req.DeclaredSize+1)}
	err = m.blobs.UploadWithParams(ctx, counter, UploadParams{
		ObjectKey: object.Location,
		MimeType:  mediaType,
		Size:      req.DeclaredSize,
	})
	if err != nil {
		m.discard(ctx, object.Location)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ObjectError{ObjectID: object.ID, Op: "ingest", Err: ctxErr}
		}
		return nil, storageFault("upload", object.Location, err)
	}
	if counter.n != req.DeclaredSize {
		m.discard(ctx, object.Location)
		return nil, &ObjectError{ObjectID: object.ID, Op: "ingest", Err: ErrSizeMismatch}
	}

	err = m.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockOwner(ctx, req.OwnerID); err != nil {
			return err
		}
		// Other processes may have committed since the first check.
		exceed, err := m.ledger.wouldExceedIn(ctx, tx, req.OwnerID, req.DeclaredSize)
		if err != nil {
			return err
		}
		if exceed {
			return ErrQuotaExceeded
		}
		if err := tx.CreateObject(ctx, object); err != nil {
			return err
		}
		if afterInsert != nil {
			return afterInsert(ctx, tx, object)
		}
		return nil
	})
	if err != nil {
		m.discard(ctx, object.Location)
		return nil, catalogFault("ingest", err)
	}

	if m.events != nil {
		if err := m.events.ObjectIngested(ctx, object); err != nil {
			m.logger.WarnContext(ctx, "Failed to publish ingest event", "object_id", object.ID, "err", err)
		}
	}

	out := *object
	return &out, nil
}

// discard removes bytes written by a failed ingest. It runs even when ctx
// has been cancelled.
func (m *StorageManager) discard(ctx context.Context, key string) {
	ctx = context.WithoutCancel(ctx)
	if err := m.blobs.Delete(ctx, key); err != nil && !errors.Is(err, ErrBlobNotFound) {
		m.logger.ErrorContext(ctx, "Failed to discard partial upload", "key", key, "err", err)
	}
}

// List returns the principal's objects, newest first. Catalog failures are
// logged and yield an empty list.
func (m *StorageManager) List(ctx context.Context, principal uuid.UUID) []*ContentObject {
	objects, err := m.repo.ListObjectsByOwner(ctx, principal)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to list objects", "principal", principal, "err", err)
		m.metrics.recordListingFault("objects")
		return []*ContentObject{}
	}
	if objects == nil {
		objects = []*ContentObject{}
	}
	return objects
}

// UsageSummary reports consumption from catalog state only.
func (m *StorageManager) UsageSummary(ctx context.Context, principal uuid.UUID) (*UsageSummary, error) {
	return m.ledger.Summary(ctx, principal)
}

// Remove deletes an owned object, voids pending shares of it and deletes its
// bytes. Objects the principal does not own are reported as not found.
func (m *StorageManager) Remove(ctx context.Context, principal, objectID uuid.UUID) error {
	err := m.remove(ctx, principal, objectID)
	m.metrics.recordRemoval(err)
	return err
}

func (m *StorageManager) remove(ctx context.Context, principal, objectID uuid.UUID) error {
	unlock, err := m.objects.Lock(ctx, objectID)
	if err != nil {
		return err
	}
	defer unlock()

	object, err := m.ownedObject(ctx, principal, objectID, "remove")
	if err != nil {
		return err
	}

	var voided int
	err = m.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		// Other processes accepting a share of this object wait here.
		if err := tx.LockObject(ctx, object.ID); err != nil {
			return err
		}
		now := m.now()
		if err := tx.DeleteObject(ctx, object.ID, now); err != nil {
			return err
		}
		n, err := tx.VoidPendingShares(ctx, object.ID, now)
		if err != nil {
			return err
		}
		voided = n
		// Bytes go last so a failure here still rolls the catalog back.
		if err := m.blobs.Delete(ctx, object.Location); err != nil && !errors.Is(err, ErrBlobNotFound) {
			return storageFault("delete", object.Location, err)
		}
		return nil
	})
	if err != nil {
		return &ObjectError{ObjectID: objectID, Op: "remove", Err: catalogFault("remove", err)}
	}
	m.metrics.recordShare(ShareStatusVoid, voided)

	if m.events != nil {
		if err := m.events.ObjectRemoved(ctx, object); err != nil {
			m.logger.WarnContext(ctx, "Failed to publish remove event", "object_id", object.ID, "err", err)
		}
	}
	return nil
}

// Open returns an owned object and a reader over its bytes. Bytes whose
// stored size disagrees with the catalog are refused. The caller closes the
// reader.
func (m *StorageManager) Open(ctx context.Context, principal, objectID uuid.UUID) (*ContentObject, io.ReadCloser, error) {
	object, err := m.ownedObject(ctx, principal, objectID, "open")
	if err != nil {
		return nil, nil, err
	}
	meta, err := m.blobs.GetObjectMeta(ctx, object.Location)
	if err != nil {
		return nil, nil, &ObjectError{ObjectID: objectID, Op: "open", Err: storageFault("stat", object.Location, err)}
	}
	if meta.Size != object.SizeBytes {
		err := fmt.Errorf("%w: catalog has %d bytes, store has %d", ErrSizeMismatch, object.SizeBytes, meta.Size)
		return nil, nil, &ObjectError{ObjectID: objectID, Op: "open", Err: storageFault("stat", object.Location, err)}
	}
	rc, err := m.blobs.Download(ctx, object.Location)
	if err != nil {
		return nil, nil, &ObjectError{ObjectID: objectID, Op: "open", Err: storageFault("download", object.Location, err)}
	}
	return object, rc, nil
}

func (m *StorageManager) ownedObject(ctx context.Context, principal, objectID uuid.UUID, op string) (*ContentObject, error) {
	object, err := m.repo.GetObject(ctx, objectID)
	if err != nil {
		return nil, &ObjectError{ObjectID: objectID, Op: op, Err: catalogFault(op, err)}
	}
	if object.OwnerID != principal {
		return nil, &ObjectError{ObjectID: objectID, Op: op, Err: ErrNotFound}
	}
	return object, nil
}

func storageFault(op, key string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Backend: "blob", Key: key, Op: op, Err: err}
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// NewContextReader returns a reader that fails with ctx.Err() once ctx is
// done. Blob stores wrap upload streams with it so a disconnected caller
// aborts the copy.
func NewContextReader(ctx context.Context, r io.Reader) io.Reader {
	return &contextReader{ctx: ctx, r: r}
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
