// Package notification fans one domain event out to per-recipient
// notification rows. Delivery is best effort: the dispatcher never returns an
// error and never blocks the transition that produced the event.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type groups notifications by the subsystem that raised them.
type Type string

const (
	TypeAppointment  Type = "APPOINTMENT"
	TypeDiagnosis    Type = "DIAGNOSIS"
	TypeLabResult    Type = "LAB_RESULT"
	TypePrescription Type = "PRESCRIPTION"
)

// Status is the persistence outcome for one recipient.
type Status string

const (
	StatusSent   Status = "SENT"
	StatusFailed Status = "FAILED"
)

// Event is the input to Dispatch. It is never stored as-is.
type Event struct {
	Type         Type
	Message      string
	InitiatorID  uuid.UUID
	RecipientIDs []uuid.UUID
	// EventID correlates the rows of one fan-out, usually the id of the
	// appointment or diagnosis that changed.
	EventID uuid.UUID
}

// Result lists which recipients got a SENT row.
type Result struct {
	Delivered []uuid.UUID
	Failed    []uuid.UUID
}

// Notification is one row per recipient.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	Type        Type      `json:"type"`
	Message     string    `json:"message"`
	InitiatorID uuid.UUID `json:"initiator_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	EventID     uuid.UUID `json:"event_id"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists notification rows. Implementations should wrap database
// failures with apperror.Infrastructure.
type Store interface {
	// InsertBatch writes all rows or none.
	InsertBatch(ctx context.Context, rows []*Notification) error
	Insert(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListUnread(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}

// Notifier is what domain services depend on.
type Notifier interface {
	Dispatch(ctx context.Context, ev Event) Result
}

// uniqueRecipients drops nil ids and duplicates, keeping first-seen order.
func uniqueRecipients(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
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
