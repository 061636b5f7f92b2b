package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carecoord/internal/platform/breaker"
	"github.com/ehr/carecoord/internal/platform/telemetry"
)

// Dispatcher is the single fan-out point for every subsystem.
type Dispatcher struct {
	store   Store
	breaker *breaker.Breaker
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Dispatcher)

// WithBreaker routes store calls through b so a down database fails fast.
func WithBreaker(b *breaker.Breaker) Option {
	return func(d *Dispatcher) { d.breaker = b }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store Store, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		logger: logger.With().Str("component", "notification_dispatcher").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch writes one SENT row per distinct recipient. It tries a single
// batch first and falls back to per-recipient inserts; recipients whose insert
// fails are returned in Failed and get a FAILED row when the store allows it.
// Dispatch never returns an error and recovers from store panics.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (res Result) {
	recipients := uniqueRecipients(ev.RecipientIDs)
	if len(recipients) == 0 {
		return Result{}
	}
	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	// The owning transition has committed; a client hang-up must not drop
	// the fan-out.
	ctx = context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("event_id", ev.EventID.String()).
				Str("type", string(ev.Type)).
				Interface("panic", r).
				Msg("notification dispatch panicked")
			res = settle(recipients, res.Delivered)
		}
		d.metrics.ObserveNotifications(string(ev.Type), string(StatusSent), len(res.Delivered))
		d.metrics.ObserveNotifications(string(ev.Type), string(StatusFailed), len(res.Failed))
	}()

	rows := make([]*Notification, len(recipients))
	for i, rid := range recipients {
		rows[i] = d.row(ev, rid)
	}

	err := d.call(ctx, func(ctx context.Context) error { return d.store.InsertBatch(ctx, rows) })
	if err == nil {
		return Result{Delivered: recipients}
	}
	d.logger.Warn().Err(err).
		Str("event_id", ev.EventID.String()).
		Int("recipients", len(recipients)).
		Msg("batch notification insert failed, retrying per recipient")

	for _, n := range rows {
		n := n
		if err := d.call(ctx, func(ctx context.Context) error { return d.store.Insert(ctx, n) }); err != nil {
			res.Failed = append(res.Failed, n.RecipientID)
			d.recordFailure(ctx, ev, n.RecipientID, err)
			continue
		}
		res.Delivered = append(res.Delivered, n.RecipientID)
	}
	return res
}

func (d *Dispatcher) row(ev Event, recipient uuid.UUID) *Notification {
	return &Notification{
		ID:          uuid.New(),
		Type:        ev.Type,
		Message:     ev.Message,
		InitiatorID: ev.InitiatorID,
		RecipientID: recipient,
		EventID:     ev.EventID,
		Status:      StatusSent,
		CreatedAt:   d.now().UTC(),
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, ev Event, recipient uuid.UUID, cause error) {
	d.logger.Error().Err(cause).
		Str("event_id", ev.EventID.String()).
		Str("recipient_id", recipient.String()).
		Str("type", string(ev.Type)).
		Msg("notification not delivered")

	failed := d.row(ev, recipient)
	failed.Status = StatusFailed
	failed.Error = cause.Error()
	if err := d.call(ctx, func(ctx context.Context) error { return d.store.Insert(ctx, failed) }); err != nil {
		d.logger.Error().Err(err).
			Str("event_id", ev.EventID.String()).
			Str("recipient_id", recipient.String()).
			Msg("could not record failed notification")
	}
}

func (d *Dispatcher) call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification store panic: %v", r)
		}
	}()
	if d.breaker != nil {
		return d.breaker.Execute(ctx, fn)
	}
	return fn(ctx)
}

// settle splits recipients into delivered and failed after an aborted run.
func settle(recipients, delivered []uuid.UUID) Result {
	ok := make(map[uuid.UUID]bool, len(delivered))
	for _, id := range delivered {
		ok[id] = true
	}
	res := Result{Delivered: delivered}
	for _, id := range recipients {
		if !ok[id] {
			res.Failed = append(res.Failed, id)
		}
	}
	return res
}
