package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

// DBTX is an interface that allows us to use either a connection pool or a transaction
type DBTX interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements cloudstore.Repository using PostgreSQL
type Repository struct {
	db   DBTX
	inTx bool
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var _ cloudstore.Repository = (*Repository)(nil)

// handlePostgresError maps driver errors onto cloudstore sentinels.
func handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return cloudstore.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w (%s)", operation, cloudstore.ErrAlreadyExists, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record: %w", operation, cloudstore.ErrNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// InTx runs fn inside a database transaction. Nested calls reuse the
// surrounding transaction.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx cloudstore.Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx, inTx: true})
	})
}

// LockOwner takes a transaction scoped advisory lock keyed by the owner.
// Outside a transaction the lock would be released immediately, so it is
// refused.
func (r *Repository) LockOwner(ctx context.Context, ownerID uuid.UUID) error {
	if !r.inTx {
		return errors.New("LockOwner requires a transaction")
	}
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, ownerID.String())
	if err != nil {
		return handlePostgresError("lock owner", err)
	}
	return nil
}

// LockObject takes a transaction scoped advisory lock keyed by the object.
// Object and owner locks hash with different seeds so they never collide.
func (r *Repository) LockObject(ctx context.Context, objectID uuid.UUID) error {
	if !r.inTx {
		return errors.New("LockObject requires a transaction")
	}
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 1))`, objectID.String())
	if err != nil {
		return handlePostgresError("lock object", err)
	}
	return nil
}

// Storage areas

func (r *Repository) GetArea(ctx context.Context, ownerID uuid.UUID) (*cloudstore.StorageArea, error) {
	var area cloudstore.StorageArea
	err := r.db.QueryRow(ctx,
		`SELECT owner_id, segment, created_at FROM storage_area WHERE owner_id = $1`, ownerID,
	).Scan(&area.OwnerID, &area.Segment, &area.CreatedAt)
	if err != nil {
		return nil, handlePostgresError("get area", err)
	}
	return &area, nil
}

func (r *Repository) CreateArea(ctx context.Context, area *cloudstore.StorageArea) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO storage_area (owner_id, segment, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		area.OwnerID, area.Segment, area.CreatedAt)
	if err != nil {
		return handlePostgresError("create area", err)
	}
	if tag.RowsAffected() == 0 {
		return cloudstore.ErrAlreadyExists
	}
	return nil
}

// Content objects

const objectColumns = `id, owner_id, display_name, storage_location, size_bytes, media_type, created_at, deleted_at`

func scanObject(row pgx.Row) (*cloudstore.ContentObject, error) {
	var o cloudstore.ContentObject
	err := row.Scan(&o.ID, &o.OwnerID, &o.DisplayName, &o.Location,
		&o.SizeBytes, &o.MediaType, &o.CreatedAt, &o.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) CreateObject(ctx context.Context, object *cloudstore.ContentObject) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO content_object (`+objectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		object.ID, object.OwnerID, object.DisplayName, object.Location,
		object.SizeBytes, object.MediaType, object.CreatedAt, object.DeletedAt)
	if err != nil {
		return handlePostgresError("create object", err)
	}
	return nil
}

func (r *Repository) GetObject(ctx context.Context, id uuid.UUID) (*cloudstore.ContentObject, error) {
	o, err := scanObject(r.db.QueryRow(ctx,
		`SELECT `+objectColumns+` FROM content_object WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, handlePostgresError("get object", err)
	}
	return o, nil
}

func (r *Repository) ListObjectsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*cloudstore.ContentObject, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+objectColumns+` FROM content_object
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, handlePostgresError("list objects", err)
	}
	defer rows.Close()

	objects := []*cloudstore.ContentObject{}
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, handlePostgresError("list objects", err)
		}
		objects = append(objects, o)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list objects", err)
	}
	return objects, nil
}

// DeleteObject soft deletes by setting deleted_at.
func (r *Repository) DeleteObject(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE content_object SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return handlePostgresError("delete object", err)
	}
	if tag.RowsAffected() == 0 {
		return cloudstore.ErrNotFound
	}
	return nil
}

func (r *Repository) GetUsage(ctx context.Context, ownerID uuid.UUID) (int64, int, error) {
	var total int64
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(size_bytes), 0)::BIGINT, COUNT(*)
		FROM content_object WHERE owner_id = $1 AND deleted_at IS NULL`, ownerID,
	).Scan(&total, &count)
	if err != nil {
		return 0, 0, handlePostgresError("get usage", err)
	}
	return total, count, nil
}

// Share requests

const shareColumns = `id, source_object_id, sender_id, recipient_id, status, created_at, resolved_at`

func scanShare(row pgx.Row) (*cloudstore.ShareRequest, error) {
	var s cloudstore.ShareRequest
	var status string
	err := row.Scan(&s.ID, &s.SourceObjectID, &s.SenderID, &s.RecipientID,
		&status, &s.CreatedAt, &s.ResolvedAt)
	if err != nil {
		return nil, err
	}
	s.Status = cloudstore.ShareStatus(status)
	return &s, nil
}

// CreateShare relies on share_request_pending_uniq. ON CONFLICT keeps the
// surrounding transaction usable when the request is already pending.
func (r *Repository) CreateShare(ctx context.Context, share *cloudstore.ShareRequest) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO share_request (`+shareColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		share.ID, share.SourceObjectID, share.SenderID, share.RecipientID,
		string(share.Status), share.CreatedAt, share.ResolvedAt)
	if err != nil {
		return handlePostgresError("create share", err)
	}
	if tag.RowsAffected() == 0 {
		return cloudstore.ErrAlreadyExists
	}
	return nil
}

func (r *Repository) GetShare(ctx context.Context, id uuid.UUID) (*cloudstore.ShareRequest, error) {
	s, err := scanShare(r.db.QueryRow(ctx,
		`SELECT `+shareColumns+` FROM share_request WHERE id = $1`, id))
	if err != nil {
		return nil, handlePostgresError("get share", err)
	}
	return s, nil
}

func (r *Repository) FindPendingShare(ctx context.Context, sourceID, senderID, recipientID uuid.UUID) (*cloudstore.ShareRequest, error) {
	s, err := scanShare(r.db.QueryRow(ctx, `
		SELECT `+shareColumns+` FROM share_request
		WHERE source_object_id = $1 AND sender_id = $2 AND recipient_id = $3 AND status = 'pending'`,
		sourceID, senderID, recipientID))
	if err != nil {
		return nil, handlePostgresError("find pending share", err)
	}
	return s, nil
}

func (r *Repository) ListSharesByRecipient(ctx context.Context, recipientID uuid.UUID, statuses ...cloudstore.ShareStatus) ([]*cloudstore.ShareRequest, error) {
	if len(statuses) == 0 {
		return r.listShares(ctx, `WHERE recipient_id = $1`, recipientID)
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return r.listShares(ctx, `WHERE recipient_id = $1 AND status = ANY($2)`, recipientID, names)
}

func (r *Repository) ListSharesBySender(ctx context.Context, senderID uuid.UUID) ([]*cloudstore.ShareRequest, error) {
	return r.listShares(ctx, `WHERE sender_id = $1`, senderID)
}

func (r *Repository) listShares(ctx context.Context, where string, args ...interface{}) ([]*cloudstore.ShareRequest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+shareColumns+` FROM share_request `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, handlePostgresError("list shares", err)
	}
	defer rows.Close()

	shares := []*cloudstore.ShareRequest{}
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, handlePostgresError("list shares", err)
		}
		shares = append(shares, s)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list shares", err)
	}
	return shares, nil
}

// TransitionShare is a compare-and-set on status. resolved_at is stamped for
// terminal states.
func (r *Repository) TransitionShare(ctx context.Context, id uuid.UUID, from, to cloudstore.ShareStatus, at time.Time) error {
	var resolvedAt *time.Time
	if to.IsTerminal() {
		resolvedAt = &at
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE share_request SET status = $3, resolved_at = COALESCE($4, resolved_at)
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), resolvedAt)
	if err != nil {
		return handlePostgresError("transition share", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM share_request WHERE id = $1)`, id).Scan(&exists); err != nil {
		return handlePostgresError("transition share", err)
	}
	if !exists {
		return cloudstore.ErrNotFound
	}
	return cloudstore.ErrInvalidState
}

func (r *Repository) VoidPendingShares(ctx context.Context, sourceID uuid.UUID, at time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE share_request SET status = 'void', resolved_at = $2
		WHERE source_object_id = $1 AND status = 'pending'`, sourceID, at)
	if err != nil {
		return 0, handlePostgresError("void pending shares", err)
	}
	return int(tag.RowsAffected()), nil
}
