package cloudstore_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
	memorystorage "github.com/tendant/simple-cloud/pkg/cloudstore/storage/memory"
)

// recordingNotifier captures notifications and optionally fails them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []cloudstore.Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, msg cloudstore.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func TestShare(t *testing.T) {
	notifier := &recordingNotifier{}
	env := newTestEnv(t, cloudstore.WithNotifier(notifier))
	ctx := context.Background()
	sender, r1, r2 := uuid.New(), uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "report.pdf", "quarterly")

	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{r1, r2, r1, sender})
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	assert.Empty(t, res.Skipped)
	for _, share := range res.Created {
		assert.Equal(t, cloudstore.ShareStatusPending, share.Status)
		assert.Equal(t, sender, share.SenderID)
		assert.Equal(t, obj.ID, share.SourceObjectID)
		assert.Nil(t, share.ResolvedAt)
	}
	assert.Equal(t, r1, res.Created[0].RecipientID)
	assert.Equal(t, r2, res.Created[1].RecipientID)

	require.Equal(t, 2, notifier.count())
	assert.Equal(t, cloudstore.NotificationShareOffered, notifier.sent[0].Kind)
	assert.Equal(t, "report.pdf", notifier.sent[0].FileName)

	// A second offer to r1 is skipped, r3 is new
	r3 := uuid.New()
	res, err = env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{r1, r3})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, r3, res.Created[0].RecipientID)
	assert.Equal(t, []uuid.UUID{r1}, res.Skipped)

	// Sharing does not touch storage
	assert.Equal(t, 1, env.blobs.Len())
	outgoing := env.svc.ListOutgoing(ctx, sender)
	assert.Len(t, outgoing, 3)
}

func TestShareErrors(t *testing.T) {
	sender, known := uuid.New(), uuid.New()
	dir := cloudstore.NewStaticDirectory(sender, known)
	env := newTestEnv(t,
		cloudstore.WithDirectory(dir),
		cloudstore.WithLimits(smallLimits()),
	)
	ctx := context.Background()
	obj := env.ingest(t, sender, "a.txt", "abc")

	t.Run("not owner", func(t *testing.T) {
		_, err := env.svc.Share(ctx, known, obj.ID, []uuid.UUID{sender})
		assert.ErrorIs(t, err, cloudstore.ErrNotFound)
	})

	t.Run("missing object", func(t *testing.T) {
		_, err := env.svc.Share(ctx, sender, uuid.New(), []uuid.UUID{known})
		assert.ErrorIs(t, err, cloudstore.ErrNotFound)
	})

	t.Run("empty recipients", func(t *testing.T) {
		_, err := env.svc.Share(ctx, sender, obj.ID, nil)
		assert.ErrorIs(t, err, cloudstore.ErrInvalidRecipient)
	})

	t.Run("only self", func(t *testing.T) {
		_, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{sender})
		assert.ErrorIs(t, err, cloudstore.ErrInvalidRecipient)
	})

	t.Run("unknown recipient fails the whole call", func(t *testing.T) {
		stranger := uuid.New()
		_, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{known, stranger})
		require.ErrorIs(t, err, cloudstore.ErrInvalidRecipient)

		var re *cloudstore.RecipientError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, []uuid.UUID{stranger}, re.Unknown)
		assert.Empty(t, env.svc.ListIncoming(ctx, known))
	})

	t.Run("too many recipients", func(t *testing.T) {
		_, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()})
		assert.ErrorIs(t, err, cloudstore.ErrTooManyRecipients)
	})
}

type failingDirectory struct{}

func (failingDirectory) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return false, errors.New("directory offline")
}

func (failingDirectory) Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*cloudstore.Principal, error) {
	return nil, errors.New("directory offline")
}

func TestShareDirectoryFault(t *testing.T) {
	env := newTestEnv(t, cloudstore.WithDirectory(failingDirectory{}))
	sender := uuid.New()
	obj := env.ingest(t, sender, "a", "a")

	_, err := env.svc.Share(context.Background(), sender, obj.ID, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, cloudstore.ErrStorageFault)
}

func TestShareNotificationFailureIsNotFatal(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	env := newTestEnv(t, cloudstore.WithNotifier(notifier), cloudstore.WithNotifyConcurrency(2))
	ctx := context.Background()
	sender := uuid.New()
	obj := env.ingest(t, sender, "a", "abc")

	recipients := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	res, err := env.svc.Share(ctx, sender, obj.ID, recipients)
	require.NoError(t, err)
	assert.Len(t, res.Created, 3)
	assert.Equal(t, 3, notifier.count())

	incoming := env.svc.ListIncoming(ctx, recipients[0])
	require.Len(t, incoming, 1)
	assert.Equal(t, cloudstore.ShareStatusPending, incoming[0].Status)
}

func TestAcceptCopiesObject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "report.pdf", "quarterly numbers")

	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)
	shareID := res.Created[0].ID

	incoming := env.svc.ListIncoming(ctx, recipient)
	require.Len(t, incoming, 1)
	assert.True(t, incoming[0].SourceAvailable)
	assert.Equal(t, "report.pdf", incoming[0].FileName)
	assert.Equal(t, obj.SizeBytes, incoming[0].FileSize)

	copied, err := env.svc.Accept(ctx, recipient, shareID)
	require.NoError(t, err)
	assert.Equal(t, recipient, copied.OwnerID)
	assert.Equal(t, "Shared_report.pdf", copied.DisplayName)
	assert.Equal(t, obj.SizeBytes, copied.SizeBytes)
	assert.Equal(t, obj.MediaType, copied.MediaType)
	assert.NotEqual(t, obj.ID, copied.ID)
	assert.NotEqual(t, obj.Location, copied.Location)

	consumed, err := env.svc.Consumed(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, obj.SizeBytes, consumed)

	// The copy is independent of the source
	require.NoError(t, env.svc.Remove(ctx, sender, obj.ID))
	assert.Equal(t, "quarterly numbers", readAll(t, env.svc, recipient, copied.ID))

	incoming = env.svc.ListIncoming(ctx, recipient)
	require.Len(t, incoming, 1)
	assert.Equal(t, cloudstore.ShareStatusAccepted, incoming[0].Status)
	assert.NotNil(t, incoming[0].ResolvedAt)
	assert.False(t, incoming[0].SourceAvailable)

	// Terminal requests cannot move again
	_, err = env.svc.Accept(ctx, recipient, shareID)
	assert.ErrorIs(t, err, cloudstore.ErrInvalidState)
	err = env.svc.Reject(ctx, recipient, shareID)
	assert.ErrorIs(t, err, cloudstore.ErrInvalidState)
}

func TestAcceptWrongRecipient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "a", "abc")
	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)

	_, err = env.svc.Accept(ctx, sender, res.Created[0].ID)
	assert.ErrorIs(t, err, cloudstore.ErrNotFound)
	err = env.svc.Reject(ctx, uuid.New(), res.Created[0].ID)
	assert.ErrorIs(t, err, cloudstore.ErrNotFound)
	_, err = env.svc.Accept(ctx, recipient, uuid.New())
	assert.ErrorIs(t, err, cloudstore.ErrNotFound)
}

func TestAcceptQuotaFailureKeepsPending(t *testing.T) {
	env := newTestEnv(t, cloudstore.WithLimits(smallLimits()))
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()

	obj := env.ingest(t, sender, "big", "0123456789")
	env.ingest(t, recipient, "mine", "0123456789")
	env.ingest(t, recipient, "mine2", "01234")

	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)
	shareID := res.Created[0].ID

	_, err = env.svc.Accept(ctx, recipient, shareID)
	assert.ErrorIs(t, err, cloudstore.ErrQuotaExceeded)

	incoming := env.svc.ListIncoming(ctx, recipient)
	require.Len(t, incoming, 1)
	assert.Equal(t, cloudstore.ShareStatusPending, incoming[0].Status)
	assert.Len(t, env.svc.List(ctx, recipient), 2)
	assert.Equal(t, 3, env.blobs.Len())

	// Freeing space lets the same request succeed
	list := env.svc.List(ctx, recipient)
	require.NoError(t, env.svc.Remove(ctx, recipient, list[0].ID))
	_, err = env.svc.Accept(ctx, recipient, shareID)
	require.NoError(t, err)
}

func TestRemoveVoidsPendingShares(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, r1, r2 := uuid.New(), uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "a", "abc")

	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{r1, r2})
	require.NoError(t, err)
	require.NoError(t, env.svc.Remove(ctx, sender, obj.ID))

	_, err = env.svc.Accept(ctx, res.Created[0].RecipientID, res.Created[0].ID)
	assert.ErrorIs(t, err, cloudstore.ErrSourceGone)
	err = env.svc.Reject(ctx, res.Created[1].RecipientID, res.Created[1].ID)
	assert.ErrorIs(t, err, cloudstore.ErrInvalidState)

	// Void requests drop out of the inbox but stay in the sender's history
	assert.Empty(t, env.svc.ListIncoming(ctx, r1))
	outgoing := env.svc.ListOutgoing(ctx, sender)
	require.Len(t, outgoing, 2)
	for _, share := range outgoing {
		assert.Equal(t, cloudstore.ShareStatusVoid, share.Status)
		assert.NotNil(t, share.ResolvedAt)
	}
}

func TestAcceptVoidsWhenSourceVanished(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "a", "abc")
	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)

	// Removed behind the service's back, leaving the request pending
	require.NoError(t, env.repo.DeleteObject(ctx, obj.ID, obj.CreatedAt))

	_, err = env.svc.Accept(ctx, recipient, res.Created[0].ID)
	assert.ErrorIs(t, err, cloudstore.ErrSourceGone)

	share, err := env.repo.GetShare(ctx, res.Created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, cloudstore.ShareStatusVoid, share.Status)
}

func TestReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "a", "abc")
	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)
	shareID := res.Created[0].ID

	require.NoError(t, env.svc.Reject(ctx, recipient, shareID))
	assert.Empty(t, env.svc.ListIncoming(ctx, recipient))
	assert.Empty(t, env.svc.List(ctx, recipient))

	_, err = env.svc.Accept(ctx, recipient, shareID)
	assert.ErrorIs(t, err, cloudstore.ErrInvalidState)

	// A new offer can follow a rejection
	res, err = env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)
	assert.Len(t, res.Created, 1)
}

func TestListIncomingOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()

	a := env.ingest(t, sender, "a", "a")
	b := env.ingest(t, sender, "b", "b")
	c := env.ingest(t, sender, "c", "c")

	resA, err := env.svc.Share(ctx, sender, a.ID, []uuid.UUID{recipient})
	require.NoError(t, err)
	resB, err := env.svc.Share(ctx, sender, b.ID, []uuid.UUID{recipient})
	require.NoError(t, err)
	resC, err := env.svc.Share(ctx, sender, c.ID, []uuid.UUID{recipient})
	require.NoError(t, err)

	_, err = env.svc.Accept(ctx, recipient, resC.Created[0].ID)
	require.NoError(t, err)

	incoming := env.svc.ListIncoming(ctx, recipient)
	require.Len(t, incoming, 3)
	assert.Equal(t, resB.Created[0].ID, incoming[0].ID)
	assert.Equal(t, resA.Created[0].ID, incoming[1].ID)
	assert.Equal(t, resC.Created[0].ID, incoming[2].ID)
	assert.Equal(t, cloudstore.ShareStatusAccepted, incoming[2].Status)
}

func TestConcurrentAcceptCopiesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "a", "abc")
	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Accept(ctx, recipient, res.Created[0].ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, cloudstore.ErrInvalidState)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, env.svc.List(ctx, recipient), 1)
}

func TestAcceptRacingRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var accepted, gone int
	for i := 0; i < 100; i++ {
		sender, recipient := uuid.New(), uuid.New()
		obj := env.ingest(t, sender, fmt.Sprintf("f%d", i), "payload")
		res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
		require.NoError(t, err)
		shareID := res.Created[0].ID

		var wg sync.WaitGroup
		start := make(chan struct{})
		var acceptErr, removeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, acceptErr = env.svc.Accept(ctx, recipient, shareID)
		}()
		go func() {
			defer wg.Done()
			<-start
			removeErr = env.svc.Remove(ctx, sender, obj.ID)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, removeErr)
		share, err := env.repo.GetShare(ctx, shareID)
		require.NoError(t, err)
		if acceptErr == nil {
			accepted++
			assert.Equal(t, cloudstore.ShareStatusAccepted, share.Status)
			require.Len(t, env.svc.List(ctx, recipient), 1)
			assert.Equal(t, "payload", readAll(t, env.svc, recipient, env.svc.List(ctx, recipient)[0].ID))
			continue
		}
		gone++
		require.ErrorIs(t, acceptErr, cloudstore.ErrSourceGone)
		assert.Equal(t, cloudstore.ShareStatusVoid, share.Status)
		assert.Empty(t, env.svc.List(ctx, recipient))
	}
	assert.Equal(t, 100, accepted+gone)
	// Only accepted copies survive in the blob store
	assert.Equal(t, accepted, env.blobs.Len())
}

// gatedUploadStore holds uploads until released, so another instance can
// act while an accept is copying bytes.
type gatedUploadStore struct {
	*memorystorage.Backend
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedUploadStore) UploadWithParams(ctx context.Context, reader io.Reader, params cloudstore.UploadParams) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.Backend.UploadWithParams(ctx, reader, params)
}

func TestAcceptRacingRemoveAcrossInstances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "report.pdf", "quarterly")
	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)

	// A second instance shares the catalog and bytes but not the
	// in-process locks.
	gated := &gatedUploadStore{Backend: env.blobs, started: make(chan struct{}), release: make(chan struct{})}
	other, err := cloudstore.New(
		cloudstore.WithRepository(env.repo),
		cloudstore.WithBlobStore(gated),
	)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := other.Accept(ctx, recipient, res.Created[0].ID)
		errs <- err
	}()

	<-gated.started
	require.NoError(t, env.svc.Remove(ctx, sender, obj.ID))
	close(gated.release)

	err = <-errs
	require.Error(t, err)
	assert.ErrorIs(t, err, cloudstore.ErrSourceGone)
	assert.NotErrorIs(t, err, cloudstore.ErrInvalidState)

	share, err := env.repo.GetShare(ctx, res.Created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, cloudstore.ShareStatusVoid, share.Status)
	assert.Empty(t, env.svc.List(ctx, recipient))
	assert.Equal(t, 0, env.blobs.Len(), "the rejected copy is discarded")
}

func TestAcceptMissingBytesIsStorageFault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	obj := env.ingest(t, sender, "a", "abc")
	res, err := env.svc.Share(ctx, sender, obj.ID, []uuid.UUID{recipient})
	require.NoError(t, err)

	// Bytes lost while the catalog still lists the source
	require.NoError(t, env.blobs.Delete(ctx, obj.Location))

	_, err = env.svc.Accept(ctx, recipient, res.Created[0].ID)
	assert.ErrorIs(t, err, cloudstore.ErrStorageFault)
	assert.NotErrorIs(t, err, cloudstore.ErrSourceGone)

	share, err := env.repo.GetShare(ctx, res.Created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, cloudstore.ShareStatusPending, share.Status)
}

// listingDirectory searches a fixed set of principals.
type listingDirectory struct {
	entries []*cloudstore.Principal
	calls   int
}

func (d *listingDirectory) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	for _, p := range d.entries {
		if p.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (d *listingDirectory) Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*cloudstore.Principal, error) {
	d.calls++
	query = strings.ToLower(query)
	out := []*cloudstore.Principal{}
	for _, p := range d.entries {
		if p.ID == exclude {
			continue
		}
		if strings.Contains(strings.ToLower(p.DisplayName), query) || strings.Contains(strings.ToLower(p.Email), query) {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestSearchRecipients(t *testing.T) {
	caller, alice, bob := uuid.New(), uuid.New(), uuid.New()
	dir := &listingDirectory{entries: []*cloudstore.Principal{
		{ID: caller, DisplayName: "Carol", Email: "carol@example.com"},
		{ID: alice, DisplayName: "Alice", Email: "alice@example.com"},
		{ID: bob, DisplayName: "Bob", Email: "bob@example.org"},
	}}
	env := newTestEnv(t, cloudstore.WithDirectory(dir))
	ctx := context.Background()

	t.Run("matches names and emails ignoring case", func(t *testing.T) {
		found := env.svc.SearchRecipients(ctx, caller, "  EXAMPLE.COM ")
		require.Len(t, found, 1)
		assert.Equal(t, alice, found[0].ID)

		found = env.svc.SearchRecipients(ctx, caller, "b")
		require.Len(t, found, 1)
		assert.Equal(t, bob, found[0].ID)
	})

	t.Run("never returns the caller", func(t *testing.T) {
		found := env.svc.SearchRecipients(ctx, caller, "carol")
		assert.Empty(t, found)
	})

	t.Run("empty query", func(t *testing.T) {
		before := dir.calls
		found := env.svc.SearchRecipients(ctx, caller, "   ")
		assert.NotNil(t, found)
		assert.Empty(t, found)
		assert.Equal(t, before, dir.calls, "an empty query never reaches the directory")
	})

	t.Run("capped", func(t *testing.T) {
		for i := 0; i < 15; i++ {
			dir.entries = append(dir.entries, &cloudstore.Principal{ID: uuid.New(), DisplayName: fmt.Sprintf("user%d", i)})
		}
		assert.Len(t, env.svc.SearchRecipients(ctx, caller, "user"), cloudstore.MaxRecipientMatches)
	})

	t.Run("directory fault degrades to empty", func(t *testing.T) {
		broken := newTestEnv(t, cloudstore.WithDirectory(failingDirectory{}))
		found := broken.svc.SearchRecipients(ctx, caller, "alice")
		assert.NotNil(t, found)
		assert.Empty(t, found)
	})
}
