package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

// Directory answers principal lookups from the principal table.
type Directory struct {
	db DBTX
}

// NewDirectory creates a Directory backed by db.
func NewDirectory(db DBTX) *Directory {
	return &Directory{db: db}
}

var _ cloudstore.Directory = (*Directory)(nil)

func (d *Directory) Exists(ctx context.Context, principalID uuid.UUID) (bool, error) {
	var exists bool
	err := d.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM principal WHERE id = $1)`, principalID,
	).Scan(&exists)
	if err != nil {
		return false, handlePostgresError("principal exists", err)
	}
	return exists, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search matches a substring of display_name or email, ignoring case.
// Wildcards in query are matched literally.
func (d *Directory) Search(ctx context.Context, query string, exclude uuid.UUID, limit int) ([]*cloudstore.Principal, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []*cloudstore.Principal{}, nil
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"

	rows, err := d.db.Query(ctx, `
		SELECT id, display_name, email FROM principal
		WHERE id <> $2 AND (display_name ILIKE $1 OR email ILIKE $1)
		ORDER BY display_name, email
		LIMIT $3`, pattern, exclude, limit)
	if err != nil {
		return nil, handlePostgresError("search principals", err)
	}
	defer rows.Close()

	out := []*cloudstore.Principal{}
	for rows.Next() {
		var p cloudstore.Principal
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Email); err != nil {
			return nil, handlePostgresError("search principals", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("search principals", err)
	}
	return out, nil
}

// Register inserts or refreshes a principal. The identity system calls this
// when it provisions a user.
func (d *Directory) Register(ctx context.Context, principalID uuid.UUID, displayName, email string) error {
	_, err := d.db.Exec(ctx, `
		INSERT INTO principal (id, display_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, email = EXCLUDED.email`,
		principalID, displayName, email)
	if err != nil {
		return handlePostgresError("register principal", err)
	}
	return nil
}
