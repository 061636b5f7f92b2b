package directory

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carecoord/internal/platform/apperror"
	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG reads the users table.
func NewRepoPG(pool *pgxpool.Pool) Directory { return &repoPG{pool: pool} }

func (r *repoPG) Lookup(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	var role string
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, role, active FROM users WHERE id = $1`, id).Scan(&u.ID, &role, &u.Active)
	if db.IsNoRows(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, apperror.Infrastructure("lookup user", err)
	}
	u.Role = auth.Role(role)
	return &u, nil
}

func (r *repoPG) ActiveOnly(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT id FROM users WHERE id = ANY($1) AND active`, ids)
	if err != nil {
		return nil, apperror.Infrastructure("filter active users", err)
	}
	defer rows.Close()

	active := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperror.Infrastructure("scan user id", err)
		}
		active[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Infrastructure("filter active users", err)
	}

	out := make([]uuid.UUID, 0, len(active))
	for _, id := range ids {
		if active[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
