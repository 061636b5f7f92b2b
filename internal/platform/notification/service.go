package notification

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/apperror"
	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/breaker"
)

var (
	ErrNotFound      = apperror.NotFound("NOT_FOUND", "notification not found")
	ErrNotAuthorized = apperror.Authorization("NOT_AUTHORIZED", "only the recipient may update this notification")
	ErrInvalidID     = apperror.Validation("INVALID_ID", "invalid notification id")
)

// Service serves a recipient's inbox.
type Service struct {
	store   Store
	breaker *breaker.Breaker
}

func NewService(store Store, b *breaker.Breaker) *Service {
	return &Service{store: store, breaker: b}
}

func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.breaker != nil {
		return s.breaker.Execute(ctx, fn)
	}
	return fn(ctx)
}

// ListUnread returns the actor's unread SENT notifications, newest first.
func (s *Service) ListUnread(ctx context.Context, actor auth.Actor, limit, offset int) ([]*Notification, int, error) {
	var (
		items []*Notification
		total int
	)
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = s.store.ListUnread(ctx, actor.ID, limit, offset)
		return err
	})
	return items, total, err
}

// MarkRead flags one notification as read. Only its recipient may do so.
func (s *Service) MarkRead(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Notification, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}
	var n *Notification
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.store.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if n.RecipientID != actor.ID {
		return nil, ErrNotAuthorized
	}
	if n.Read {
		return n, nil
	}
	if err := s.call(ctx, func(ctx context.Context) error { return s.store.MarkRead(ctx, id) }); err != nil {
		return nil, err
	}
	n.Read = true
	return n, nil
}
