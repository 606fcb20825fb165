package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

type state struct {
	areas   map[uuid.UUID]*cloudstore.StorageArea
	objects map[uuid.UUID]*cloudstore.ContentObject
	shares  map[uuid.UUID]*cloudstore.ShareRequest
}

func newState() *state {
	return &state{
		areas:   make(map[uuid.UUID]*cloudstore.StorageArea),
		objects: make(map[uuid.UUID]*cloudstore.ContentObject),
		shares:  make(map[uuid.UUID]*cloudstore.ShareRequest),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.areas {
		a := *v
		c.areas[k] = &a
	}
	for k, v := range s.objects {
		o := *v
		c.objects[k] = &o
	}
	for k, v := range s.shares {
		sh := *v
		c.shares[k] = &sh
	}
	return c
}

// Repository implements cloudstore.Repository using in-memory storage.
//
// Writers are serialised by txMu. A transaction works on a private copy of
// the state and swaps it in on commit, so a failed transaction leaves no
// trace. Work done inside a transaction, blob deletes included, therefore
// delays every other writer; use the Postgres repository when principals
// must not wait on each other.
type Repository struct {
	mu   sync.RWMutex
	txMu *sync.Mutex
	st   *state
	inTx bool
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		txMu: &sync.Mutex{},
		st:   newState(),
	}
}

var _ cloudstore.Repository = (*Repository)(nil)

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx cloudstore.Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	tx := &Repository{txMu: r.txMu, st: r.st.clone(), inTx: true}
	r.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.st = tx.st
	r.mu.Unlock()
	return nil
}

// LockOwner is a no-op: transactions are already serialised.
func (r *Repository) LockOwner(ctx context.Context, ownerID uuid.UUID) error {
	return nil
}

// LockObject is a no-op for the same reason.
func (r *Repository) LockObject(ctx context.Context, objectID uuid.UUID) error {
	return nil
}

// write runs fn under the write locks appropriate for r.
func (r *Repository) write(fn func(st *state) error) error {
	if !r.inTx {
		r.txMu.Lock()
		defer r.txMu.Unlock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.st)
}

func (r *Repository) read(fn func(st *state)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.st)
}

// Storage areas

func (r *Repository) GetArea(ctx context.Context, ownerID uuid.UUID) (*cloudstore.StorageArea, error) {
	var out *cloudstore.StorageArea
	r.read(func(st *state) {
		if a, ok := st.areas[ownerID]; ok {
			c := *a
			out = &c
		}
	})
	if out == nil {
		return nil, cloudstore.ErrNotFound
	}
	return out, nil
}

func (r *Repository) CreateArea(ctx context.Context, area *cloudstore.StorageArea) error {
	return r.write(func(st *state) error {
		if _, ok := st.areas[area.OwnerID]; ok {
			return cloudstore.ErrAlreadyExists
		}
		for _, a := range st.areas {
			if a.Segment == area.Segment {
				return cloudstore.ErrAlreadyExists
			}
		}
		c := *area
		st.areas[area.OwnerID] = &c
		return nil
	})
}

// Content objects

func (r *Repository) CreateObject(ctx context.Context, object *cloudstore.ContentObject) error {
	return r.write(func(st *state) error {
		if _, ok := st.objects[object.ID]; ok {
			return cloudstore.ErrAlreadyExists
		}
		c := *object
		st.objects[object.ID] = &c
		return nil
	})
}

func (r *Repository) GetObject(ctx context.Context, id uuid.UUID) (*cloudstore.ContentObject, error) {
	var out *cloudstore.ContentObject
	r.read(func(st *state) {
		if o, ok := st.objects[id]; ok && o.DeletedAt == nil {
			c := *o
			out = &c
		}
	})
	if out == nil {
		return nil, cloudstore.ErrNotFound
	}
	return out, nil
}

func (r *Repository) ListObjectsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*cloudstore.ContentObject, error) {
	out := []*cloudstore.ContentObject{}
	r.read(func(st *state) {
		for _, o := range st.objects {
			if o.OwnerID == ownerID && o.DeletedAt == nil {
				c := *o
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteObject soft deletes by setting DeletedAt.
func (r *Repository) DeleteObject(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.write(func(st *state) error {
		o, ok := st.objects[id]
		if !ok || o.DeletedAt != nil {
			return cloudstore.ErrNotFound
		}
		t := at
		o.DeletedAt = &t
		return nil
	})
}

func (r *Repository) GetUsage(ctx context.Context, ownerID uuid.UUID) (int64, int, error) {
	var total int64
	var count int
	r.read(func(st *state) {
		for _, o := range st.objects {
			if o.OwnerID == ownerID && o.DeletedAt == nil {
				total += o.SizeBytes
				count++
			}
		}
	})
	return total, count, nil
}

// Share requests

func (r *Repository) CreateShare(ctx context.Context, share *cloudstore.ShareRequest) error {
	return r.write(func(st *state) error {
		if _, ok := st.shares[share.ID]; ok {
			return cloudstore.ErrAlreadyExists
		}
		if share.Status == cloudstore.ShareStatusPending {
			if findPending(st, share.SourceObjectID, share.SenderID, share.RecipientID) != nil {
				return cloudstore.ErrAlreadyExists
			}
		}
		c := *share
		st.shares[share.ID] = &c
		return nil
	})
}

func (r *Repository) GetShare(ctx context.Context, id uuid.UUID) (*cloudstore.ShareRequest, error) {
	var out *cloudstore.ShareRequest
	r.read(func(st *state) {
		if s, ok := st.shares[id]; ok {
			c := *s
			out = &c
		}
	})
	if out == nil {
		return nil, cloudstore.ErrNotFound
	}
	return out, nil
}

func (r *Repository) FindPendingShare(ctx context.Context, sourceID, senderID, recipientID uuid.UUID) (*cloudstore.ShareRequest, error) {
	var out *cloudstore.ShareRequest
	r.read(func(st *state) {
		if s := findPending(st, sourceID, senderID, recipientID); s != nil {
			c := *s
			out = &c
		}
	})
	if out == nil {
		return nil, cloudstore.ErrNotFound
	}
	return out, nil
}

func findPending(st *state, sourceID, senderID, recipientID uuid.UUID) *cloudstore.ShareRequest {
	for _, s := range st.shares {
		if s.Status == cloudstore.ShareStatusPending &&
			s.SourceObjectID == sourceID && s.SenderID == senderID && s.RecipientID == recipientID {
			return s
		}
	}
	return nil
}

func (r *Repository) ListSharesByRecipient(ctx context.Context, recipientID uuid.UUID, statuses ...cloudstore.ShareStatus) ([]*cloudstore.ShareRequest, error) {
	return r.listShares(func(s *cloudstore.ShareRequest) bool {
		return s.RecipientID == recipientID && hasStatus(s.Status, statuses)
	}), nil
}

func (r *Repository) ListSharesBySender(ctx context.Context, senderID uuid.UUID) ([]*cloudstore.ShareRequest, error) {
	return r.listShares(func(s *cloudstore.ShareRequest) bool {
		return s.SenderID == senderID
	}), nil
}

func (r *Repository) listShares(match func(*cloudstore.ShareRequest) bool) []*cloudstore.ShareRequest {
	out := []*cloudstore.ShareRequest{}
	r.read(func(st *state) {
		for _, s := range st.shares {
			if match(s) {
				c := *s
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func hasStatus(status cloudstore.ShareStatus, statuses []cloudstore.ShareStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r *Repository) TransitionShare(ctx context.Context, id uuid.UUID, from, to cloudstore.ShareStatus, at time.Time) error {
	return r.write(func(st *state) error {
		s, ok := st.shares[id]
		if !ok {
			return cloudstore.ErrNotFound
		}
		if s.Status != from {
			return cloudstore.ErrInvalidState
		}
		s.Status = to
		if to.IsTerminal() {
			t := at
			s.ResolvedAt = &t
		}
		return nil
	})
}

func (r *Repository) VoidPendingShares(ctx context.Context, sourceID uuid.UUID, at time.Time) (int, error) {
	var n int
	err := r.write(func(st *state) error {
		for _, s := range st.shares {
			if s.SourceObjectID == sourceID && s.Status == cloudstore.ShareStatusPending {
				s.Status = cloudstore.ShareStatusVoid
				t := at
				s.ResolvedAt = &t
				n++
			}
		}
		return nil
	})
	return n, err
}
