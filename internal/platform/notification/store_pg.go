package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carecoord/internal/platform/apperror"
	"github.com/ehr/carecoord/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

const notificationCols = `id, type, message, initiator_id, recipient_id, event_id,
	status, error, read, created_at`

var copyColumns = []string{
	"id", "type", "message", "initiator_id", "recipient_id", "event_id",
	"status", "error", "read", "created_at",
}

func (s *storePG) scan(row pgx.Row) (*Notification, error) {
	var n Notification
	var initiator *uuid.UUID
	var errText *string
	err := row.Scan(&n.ID, &n.Type, &n.Message, &initiator, &n.RecipientID, &n.EventID,
		&n.Status, &errText, &n.Read, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if initiator != nil {
		n.InitiatorID = *initiator
	}
	if errText != nil {
		n.Error = *errText
	}
	return &n, nil
}

func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertBatch uses COPY so the whole fan-out is one round trip and lands
// atomically.
func (s *storePG) InsertBatch(ctx context.Context, rows []*Notification) error {
	src := pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
		n := rows[i]
		return []interface{}{
			n.ID, string(n.Type), n.Message, nullableID(n.InitiatorID), n.RecipientID, n.EventID,
			string(n.Status), nullableText(n.Error), n.Read, n.CreatedAt,
		}, nil
	})
	if _, err := db.Conn(ctx, s.pool).CopyFrom(ctx, pgx.Identifier{"notification"}, copyColumns, src); err != nil {
		return apperror.Infrastructure("insert notifications", err)
	}
	return nil
}

func (s *storePG) Insert(ctx context.Context, n *Notification) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO notification (`+notificationCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		n.ID, string(n.Type), n.Message, nullableID(n.InitiatorID), n.RecipientID, n.EventID,
		string(n.Status), nullableText(n.Error), n.Read, n.CreatedAt)
	if err != nil {
		return apperror.Infrastructure("insert notification", err)
	}
	return nil
}

func (s *storePG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := s.scan(db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+notificationCols+` FROM notification WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperror.Infrastructure("load notification", err)
	}
	return n, nil
}

func (s *storePG) ListUnread(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	conn := db.Conn(ctx, s.pool)
	var total int
	if err := conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification
		WHERE recipient_id = $1 AND status = 'SENT' AND NOT read`, recipientID).Scan(&total); err != nil {
		return nil, 0, apperror.Infrastructure("count notifications", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT `+notificationCols+` FROM notification
		WHERE recipient_id = $1 AND status = 'SENT' AND NOT read
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, 0, apperror.Infrastructure("list notifications", err)
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := s.scan(rows)
		if err != nil {
			return nil, 0, apperror.Infrastructure("scan notification", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperror.Infrastructure("list notifications", err)
	}
	return items, total, nil
}

func (s *storePG) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `UPDATE notification SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return apperror.Infrastructure("mark notification read", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
