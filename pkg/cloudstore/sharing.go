package cloudstore

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const notifyTimeout = 10 * time.Second

// SharingEngine runs the share request workflow. It touches storage only
// when a request is accepted.
type SharingEngine struct {
	storage           *StorageManager
	repo              Repository
	directory         Directory
	notifier          Notifier
	events            EventSink
	limits            Limits
	logger            *slog.Logger
	metrics           *Metrics
	now               func() time.Time
	notifyConcurrency int
}

// Share offers an owned object to each recipient. The sender is dropped from
// its own recipient list and recipients with a pending request for the same
// object are skipped. Either every unknown recipient is reported and nothing
// is created, or all new requests are committed together.
func (e *SharingEngine) Share(ctx context.Context, sender, objectID uuid.UUID, recipients []uuid.UUID) (*ShareResult, error) {
	targets := normalizeRecipients(sender, recipients)
	if len(targets) > e.limits.MaxRecipients {
		return nil, &ShareError{Op: "share", Err: ErrTooManyRecipients}
	}

	unlock, err := e.storage.objects.Lock(ctx, objectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	object, err := e.storage.ownedObject(ctx, sender, objectID, "share")
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, &ShareError{Op: "share", Err: ErrInvalidRecipient}
	}

	var unknown []uuid.UUID
	for _, id := range targets {
		ok, err := e.directory.Exists(ctx, id)
		if err != nil {
			return nil, &ShareError{Op: "share", Err: &StorageError{Backend: "directory", Key: id.String(), Op: "lookup", Err: err}}
		}
		if !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, &ShareError{Op: "share", Err: &RecipientError{Unknown: unknown}}
	}

	result := &ShareResult{}
	err = e.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		result.Created = []*ShareRequest{}
		result.Skipped = []uuid.UUID{}
		now := e.now()
		for _, id := range targets {
			_, err := tx.FindPendingShare(ctx, objectID, sender, id)
			if err == nil {
				result.Skipped = append(result.Skipped, id)
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}

			share := &ShareRequest{
				ID:             uuid.New(),
				SourceObjectID: objectID,
				SenderID:       sender,
				RecipientID:    id,
				Status:         ShareStatusPending,
				CreatedAt:      now,
			}
			if err := tx.CreateShare(ctx, share); err != nil {
				if errors.Is(err, ErrAlreadyExists) {
					result.Skipped = append(result.Skipped, id)
					continue
				}
				return err
			}
			result.Created = append(result.Created, share)
		}
		return nil
	})
	if err != nil {
		return nil, &ShareError{Op: "share", Err: catalogFault("share", err)}
	}
	e.metrics.recordShare(ShareStatusPending, len(result.Created))

	for _, share := range result.Created {
		if err := e.events.ShareCreated(ctx, share); err != nil {
			e.logger.WarnContext(ctx, "Failed to publish share event", "share_id", share.ID, "err", err)
		}
	}
	e.notifyOffered(ctx, object, result.Created)

	return result, nil
}

// notifyOffered tells each recipient about a new request. Failures are
// logged and never undo the share.
func (e *SharingEngine) notifyOffered(ctx context.Context, object *ContentObject, shares []*ShareRequest) {
	if len(shares) == 0 || e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(e.notifyConcurrency)
	for _, share := range shares {
		n := Notification{
			Kind:           NotificationShareOffered,
			ShareID:        share.ID,
			SourceObjectID: share.SourceObjectID,
			SenderID:       share.SenderID,
			RecipientID:    share.RecipientID,
			FileName:       object.DisplayName,
			CreatedAt:      share.CreatedAt,
		}
		g.Go(func() error {
			if err := e.notifier.Notify(ctx, n); err != nil {
				e.logger.WarnContext(ctx, "Failed to notify share recipient",
					"share_id", n.ShareID, "recipient_id", n.RecipientID, "err", err)
				e.metrics.recordNotifyFailure()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ListIncoming returns pending and accepted requests addressed to the
// recipient, pending first and newest first within each group.
func (e *SharingEngine) ListIncoming(ctx context.Context, recipient uuid.UUID) []*IncomingShare {
	shares, err := e.repo.ListSharesByRecipient(ctx, recipient, ShareStatusPending, ShareStatusAccepted)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list incoming shares", "recipient_id", recipient, "err", err)
		e.metrics.recordListingFault("incoming_shares")
		return []*IncomingShare{}
	}

	sort.SliceStable(shares, func(i, j int) bool {
		pi, pj := shares[i].Status == ShareStatusPending, shares[j].Status == ShareStatusPending
		if pi != pj {
			return pi
		}
		return shares[i].CreatedAt.After(shares[j].CreatedAt)
	})

	out := make([]*IncomingShare, 0, len(shares))
	for _, share := range shares {
		item := &IncomingShare{ShareRequest: *share}
		source, err := e.repo.GetObject(ctx, share.SourceObjectID)
		switch {
		case err == nil:
			item.SourceAvailable = true
			item.FileName = source.DisplayName
			item.FileSize = source.SizeBytes
			item.MediaType = source.MediaType
		case errors.Is(err, ErrNotFound):
		default:
			e.logger.ErrorContext(ctx, "Failed to load share source", "share_id", share.ID, "err", err)
		}
		out = append(out, item)
	}
	return out
}

// ListOutgoing returns every request the sender created, newest first.
func (e *SharingEngine) ListOutgoing(ctx context.Context, sender uuid.UUID) []*ShareRequest {
	shares, err := e.repo.ListSharesBySender(ctx, sender)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list outgoing shares", "sender_id", sender, "err", err)
		e.metrics.recordListingFault("outgoing_shares")
		return []*ShareRequest{}
	}
	if shares == nil {
		shares = []*ShareRequest{}
	}
	return shares
}

// SearchRecipients finds principals the caller could share with. An empty
// query matches nobody. Directory failures are logged and yield no matches.
func (e *SharingEngine) SearchRecipients(ctx context.Context, caller uuid.UUID, query string) []*Principal {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Principal{}
	}
	found, err := e.directory.Search(ctx, query, caller, MaxRecipientMatches)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to search recipients", "caller", caller, "err", err)
		e.metrics.recordListingFault("recipients")
		return []*Principal{}
	}

	out := make([]*Principal, 0, len(found))
	for _, p := range found {
		if p.ID == caller {
			continue
		}
		out = append(out, p)
		if len(out) == MaxRecipientMatches {
			break
		}
	}
	return out
}

// Accept copies the source object into the recipient's area and marks the
// request accepted in the same transaction. A quota failure leaves the
// request pending; a missing source voids it.
func (e *SharingEngine) Accept(ctx context.Context, recipient, shareID uuid.UUID) (*ContentObject, error) {
	share, err := e.pendingShareFor(ctx, recipient, shareID, "accept", ErrSourceGone)
	if err != nil {
		return nil, err
	}

	unlockObject, err := e.storage.objects.Lock(ctx, share.SourceObjectID)
	if err != nil {
		return nil, err
	}
	defer unlockObject()

	// Re-read under the object lock; a concurrent call may have resolved it.
	share, err = e.pendingShareFor(ctx, recipient, shareID, "accept", ErrSourceGone)
	if err != nil {
		return nil, err
	}

	source, err := e.repo.GetObject(ctx, share.SourceObjectID)
	if errors.Is(err, ErrNotFound) {
		e.voidShare(ctx, share.ID)
		return nil, &ShareError{ShareID: shareID, Op: "accept", Err: ErrSourceGone}
	}
	if err != nil {
		return nil, &ShareError{ShareID: shareID, Op: "accept", Err: catalogFault("accept", err)}
	}

	unlockPrincipal, err := e.storage.principals.Lock(ctx, recipient)
	if err != nil {
		return nil, err
	}
	defer unlockPrincipal()

	rc, err := e.storage.blobs.Download(ctx, source.Location)
	if err != nil {
		if e.sourceRemoved(ctx, share) {
			e.voidShare(ctx, share.ID)
			return nil, &ShareError{ShareID: shareID, Op: "accept", Err: ErrSourceGone}
		}
		return nil, &ShareError{ShareID: shareID, Op: "accept", Err: storageFault("download", source.Location, err)}
	}
	defer rc.Close()

	resolvedAt := e.now()
	object, err := e.storage.ingestLocked(ctx, IngestRequest{
		OwnerID:      recipient,
		Name:         sharedCopyName(source.DisplayName),
		Reader:       rc,
		DeclaredSize: source.SizeBytes,
		MediaType:    source.MediaType,
	}, func(ctx context.Context, tx Repository, _ *ContentObject) error {
		// A removal in another process commits either before this point,
		// and the copy is refused, or after the accept commits.
		if err := tx.LockObject(ctx, source.ID); err != nil {
			return err
		}
		if _, err := tx.GetObject(ctx, source.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrSourceGone
			}
			return err
		}
		return tx.TransitionShare(ctx, share.ID, ShareStatusPending, ShareStatusAccepted, resolvedAt)
	})
	e.metrics.recordIngest(source.SizeBytes, err)
	if err != nil {
		if !errors.Is(err, ErrSourceGone) && !errors.Is(err, ErrQuotaExceeded) && e.sourceRemoved(ctx, share) {
			err = ErrSourceGone
		}
		if errors.Is(err, ErrSourceGone) {
			e.voidShare(ctx, share.ID)
		}
		return nil, &ShareError{ShareID: shareID, Op: "accept", Err: err}
	}

	e.metrics.recordShare(ShareStatusAccepted, 1)
	share.Status = ShareStatusAccepted
	share.ResolvedAt = &resolvedAt
	if err := e.events.ShareResolved(ctx, share); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish share event", "share_id", share.ID, "err", err)
	}
	return object, nil
}

// sourceRemoved reports whether a failed accept lost a race with removal of
// the source, either in this process or another. It waits for any removal
// in progress to commit before looking.
func (e *SharingEngine) sourceRemoved(ctx context.Context, share *ShareRequest) bool {
	ctx = context.WithoutCancel(ctx)
	var gone bool
	err := e.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockObject(ctx, share.SourceObjectID); err != nil {
			return err
		}
		_, err := tx.GetObject(ctx, share.SourceObjectID)
		if errors.Is(err, ErrNotFound) {
			gone = true
			return nil
		}
		if err != nil {
			return err
		}
		current, err := tx.GetShare(ctx, share.ID)
		if err != nil {
			return err
		}
		gone = current.Status == ShareStatusVoid
		return nil
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to recheck share source", "share_id", share.ID, "err", err)
		return false
	}
	return gone
}

// voidShare marks a pending request void. A request already resolved, for
// example by the removal that made its source vanish, is left alone.
func (e *SharingEngine) voidShare(ctx context.Context, shareID uuid.UUID) {
	err := e.repo.TransitionShare(context.WithoutCancel(ctx), shareID, ShareStatusPending, ShareStatusVoid, e.now())
	switch {
	case err == nil:
		e.metrics.recordShare(ShareStatusVoid, 1)
	case errors.Is(err, ErrInvalidState):
	default:
		e.logger.ErrorContext(ctx, "Failed to void share", "share_id", shareID, "err", err)
	}
}

// Reject closes a pending request without touching storage.
func (e *SharingEngine) Reject(ctx context.Context, recipient, shareID uuid.UUID) error {
	share, err := e.pendingShareFor(ctx, recipient, shareID, "reject", ErrInvalidState)
	if err != nil {
		return err
	}

	resolvedAt := e.now()
	if err := e.repo.TransitionShare(ctx, share.ID, ShareStatusPending, ShareStatusRejected, resolvedAt); err != nil {
		return &ShareError{ShareID: shareID, Op: "reject", Err: catalogFault("reject", err)}
	}

	e.metrics.recordShare(ShareStatusRejected, 1)
	share.Status = ShareStatusRejected
	share.ResolvedAt = &resolvedAt
	if err := e.events.ShareResolved(ctx, share); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish share event", "share_id", share.ID, "err", err)
	}
	return nil
}

// pendingShareFor loads a request addressed to recipient and checks that it
// is still pending. voidErr is returned for requests voided by a removal.
func (e *SharingEngine) pendingShareFor(ctx context.Context, recipient, shareID uuid.UUID, op string, voidErr error) (*ShareRequest, error) {
	share, err := e.repo.GetShare(ctx, shareID)
	if err != nil {
		return nil, &ShareError{ShareID: shareID, Op: op, Err: catalogFault(op, err)}
	}
	if share.RecipientID != recipient {
		return nil, &ShareError{ShareID: shareID, Op: op, Err: ErrNotFound}
	}
	switch share.Status {
	case ShareStatusPending:
		return share, nil
	case ShareStatusVoid:
		return nil, &ShareError{ShareID: shareID, Op: op, Err: voidErr}
	default:
		return nil, &ShareError{ShareID: shareID, Op: op, Err: ErrInvalidState}
	}
}

// normalizeRecipients removes duplicates and the sender while keeping
// first-seen order.
func normalizeRecipients(sender uuid.UUID, recipients []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(recipients))
	out := make([]uuid.UUID, 0, len(recipients))
	for _, id := range recipients {
		if id == sender {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
