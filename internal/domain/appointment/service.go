package appointment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/carecoord/internal/platform/apperror"
	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/db"
	"github.com/ehr/carecoord/internal/platform/directory"
	"github.com/ehr/carecoord/internal/platform/notification"
	"github.com/ehr/carecoord/internal/platform/telemetry"
)

// DiagnosisOpener opens the diagnosis record a completed appointment asked
// for. It runs inside the completion transaction.
type DiagnosisOpener interface {
	OpenForEncounter(ctx context.Context, appointmentID, doctorID, patientID uuid.UUID, outcome string) error
}

type Deps struct {
	Repo      Repository
	Tx        db.Transactor
	Directory directory.Directory
	Notifier  notification.Notifier
	Diagnoses DiagnosisOpener
	Logger    zerolog.Logger
}

// Service is the appointment state machine. It is the only writer of status,
// confirmation flags and the edit lock.
type Service struct {
	repo      Repository
	tx        db.Transactor
	dir       directory.Directory
	notifier  notification.Notifier
	diagnoses DiagnosisOpener
	conflicts *ConflictDetector
	templates *notification.TemplateEngine
	rules     Rules
	locks     *db.KeyedMutex
	retries   int
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithRules(r Rules) Option {
	return func(s *Service) { s.rules = r }
}

// WithRetries sets how many times a transition is re-run after an
// infrastructure failure or a lost version race.
func WithRetries(n int) Option {
	return func(s *Service) { s.retries = n }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithTemplates(t *notification.TemplateEngine) Option {
	return func(s *Service) { s.templates = t }
}

func NewService(d Deps, opts ...Option) *Service {
	s := &Service{
		repo:      d.Repo,
		tx:        d.Tx,
		dir:       d.Directory,
		notifier:  d.Notifier,
		diagnoses: d.Diagnoses,
		templates: notification.NewTemplateEngine(),
		rules:     DefaultRules(),
		locks:     db.NewKeyedMutex(),
		retries:   3,
		tracer:    otel.Tracer("github.com/ehr/carecoord/appointment"),
		logger:    d.Logger.With().Str("component", "appointment").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.conflicts = NewConflictDetector(s.repo, s.rules)
	return s
}

// transition runs fn in a transaction under the in-process lock for key,
// retrying infrastructure failures. fn must be safe to re-run.
func (s *Service) transition(ctx context.Context, op string, key uuid.UUID, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "appointment."+op,
		trace.WithAttributes(attribute.String("appointment.key", key.String())))
	defer span.End()

	unlock := s.locks.Lock(key)
	defer unlock()

	var err error
	for attempt := 0; ; attempt++ {
		err = s.tx.WithTx(ctx, fn)
		if err == nil || !apperror.IsRetryable(err) || attempt >= s.retries || ctx.Err() != nil {
			break
		}
		s.metrics.ObserveRetry(op)
		s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("retrying appointment transition")
	}

	s.metrics.ObserveTransition(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperror.CodeOf(err))
	}
	return err
}

// notify fans out to the active members of recipients. It runs after commit
// and never fails the caller.
func (s *Service) notify(ctx context.Context, tpl string, a *Appointment, actor auth.Actor, recipients []uuid.UUID, extra map[string]string) {
	active, err := s.dir.ActiveOnly(ctx, recipients)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).
			Msg("could not filter inactive recipients, notifying all")
		active = recipients
	}
	data := map[string]string{
		"date":   a.ScheduledAt.In(s.rules.location()).Format("2006-01-02 15:04 MST"),
		"actor":  string(actor.Role),
		"reason": a.Reason,
	}
	for k, v := range extra {
		data[k] = v
	}
	s.notifier.Dispatch(ctx, s.templates.Event(tpl, data, actor.ID, a.ID, active))
}

// loadInvolved fetches the row under lock and checks actor is a party.
func (s *Service) loadInvolved(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Involves(actor) {
		return nil, ErrNotAuthorized
	}
	return a, nil
}

func validReason(r string, min int) bool {
	n := len([]rune(strings.TrimSpace(r)))
	return n >= min && n <= 1000
}

// -- Create --

func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*Appointment, error) {
	switch actor.Role {
	case auth.RoleDoctor:
		in.DoctorID = actor.ID
	case auth.RolePatient:
		in.PatientID = actor.ID
	case auth.RoleAdmin:
	default:
		return nil, ErrNotAuthorized
	}
	if in.DoctorID == uuid.Nil || in.PatientID == uuid.Nil {
		return nil, ErrMissingParty
	}
	if !validReason(in.Reason, 3) {
		return nil, ErrInvalidReason
	}
	if err := s.rules.checkDate(in.ScheduledAt, s.now()); err != nil {
		return nil, err
	}
	if err := s.checkTarget(ctx, in.DoctorID, auth.RoleDoctor); err != nil {
		return nil, err
	}
	if err := s.checkTarget(ctx, in.PatientID, auth.RolePatient); err != nil {
		return nil, err
	}

	var created *Appointment
	err := s.transition(ctx, "create", in.DoctorID, func(ctx context.Context) error {
		if err := s.repo.LockDoctor(ctx, in.DoctorID); err != nil {
			return err
		}
		conflict, err := s.conflicts.HasConflict(ctx, in.DoctorID, in.ScheduledAt, uuid.Nil)
		if err != nil {
			return err
		}
		if conflict {
			return ErrSlotConflict
		}
		a := &Appointment{
			DoctorID:    in.DoctorID,
			PatientID:   in.PatientID,
			ScheduledAt: in.ScheduledAt.UTC(),
			Reason:      strings.TrimSpace(in.Reason),
			Status:      StatusPending,
			CreatedBy:   actor.ID,
		}
		preconfirm(a, actor.Role)
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplAppointmentCreated, created, actor, resolveRecipients(actor.Role, created), nil)
	return created, nil
}

// checkTarget requires id to be an active user holding role.
func (s *Service) checkTarget(ctx context.Context, id uuid.UUID, role auth.Role) error {
	u, err := s.dir.Lookup(ctx, id)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			return ErrTargetNotFound
		}
		return err
	}
	if !u.Active || u.Role != role {
		return ErrTargetNotFound
	}
	return nil
}

// -- Update --

func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}
	updateReason := strings.TrimSpace(in.UpdateReason)
	if updateReason == "" {
		return nil, ErrUpdateReasonRequired
	}
	if in.Reason == nil && in.ScheduledAt == nil {
		return nil, ErrNothingToUpdate
	}
	if in.Reason != nil && !validReason(*in.Reason, 1) {
		return nil, ErrInvalidReason
	}
	if in.ScheduledAt != nil {
		if err := s.rules.checkDate(*in.ScheduledAt, s.now()); err != nil {
			return nil, err
		}
	}

	var updated *Appointment
	err := s.transition(ctx, "update", id, func(ctx context.Context) error {
		a, err := s.loadInvolved(ctx, actor, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return terminalError(a.Status)
		}
		if err := requestEdit(a, actor, s.now(), s.rules.EditCutoff); err != nil {
			return err
		}
		if in.ScheduledAt != nil {
			if err := s.repo.LockDoctor(ctx, a.DoctorID); err != nil {
				return err
			}
			conflict, err := s.conflicts.HasConflict(ctx, a.DoctorID, *in.ScheduledAt, a.ID)
			if err != nil {
				return err
			}
			if conflict {
				return ErrSlotConflict
			}
			a.ScheduledAt = in.ScheduledAt.UTC()
		}
		if in.Reason != nil {
			a.Reason = strings.TrimSpace(*in.Reason)
		}
		a.UpdateReason = &updateReason
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplAppointmentUpdated, updated, actor, resolveRecipients(actor.Role, updated),
		map[string]string{"update_reason": updateReason})
	return updated, nil
}

// -- Confirm --

func (s *Service) Confirm(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}

	var confirmed *Appointment
	err := s.transition(ctx, "confirm", id, func(ctx context.Context) error {
		a, err := s.loadInvolved(ctx, actor, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return terminalError(a.Status)
		}
		if err := confirm(a, actor); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		confirmed = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplAppointmentConfirmed, confirmed, actor, resolveRecipients(actor.Role, confirmed), nil)
	return confirmed, nil
}

// -- Cancel --

func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < 5 {
		return nil, ErrCancelReason
	}

	var cancelled *Appointment
	err := s.transition(ctx, "cancel", id, func(ctx context.Context) error {
		a, err := s.loadInvolved(ctx, actor, id)
		if err != nil {
			return err
		}
		if a.Status.Terminal() {
			return ErrAlreadyCancelled
		}
		by := actor.ID
		a.Status = StatusCancelled
		a.CancelledBy = &by
		a.CancellationReason = &reason
		a.UpdatedBy = nil
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplAppointmentCancelled, cancelled, actor, resolveRecipients(actor.Role, cancelled),
		map[string]string{"reason": reason})
	return cancelled, nil
}

// -- Notes and completion --

func (s *Service) RecordNotes(ctx context.Context, actor auth.Actor, id uuid.UUID, in NotesInput) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}
	if in.Outcome == nil && in.CreateDiagnosis == nil {
		return nil, ErrNotesRequired
	}
	if in.Outcome != nil && strings.TrimSpace(*in.Outcome) == "" {
		return nil, ErrOutcomeRequired
	}

	var noted *Appointment
	err := s.transition(ctx, "notes", id, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actor.ID != a.DoctorID {
			return ErrNotAuthorized
		}
		if a.Status.Terminal() {
			return terminalError(a.Status)
		}
		if in.Outcome != nil {
			outcome := strings.TrimSpace(*in.Outcome)
			a.Outcome = &outcome
		}
		if in.CreateDiagnosis != nil {
			a.CreateDiagnosis = *in.CreateDiagnosis
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		noted = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return noted, nil
}

// Complete closes a confirmed appointment. When notes asked for a diagnosis,
// an OPEN record is created in the same transaction.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, outcome string) (*Appointment, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}
	if !auth.HasExactRole(actor.Role, auth.RoleDoctor) {
		return nil, ErrNotAuthorized
	}

	var completed *Appointment
	err := s.transition(ctx, "complete", id, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actor.ID != a.DoctorID {
			return ErrNotAuthorized
		}
		switch a.Status {
		case StatusCompleted:
			return ErrAlreadyCompleted
		case StatusCancelled:
			return ErrAlreadyCancelled
		case StatusPending:
			return ErrNotConfirmed
		}

		final := strings.TrimSpace(outcome)
		if final == "" && a.Outcome != nil {
			final = strings.TrimSpace(*a.Outcome)
		}
		if final == "" {
			return ErrOutcomeRequired
		}

		now := s.now().UTC()
		a.Status = StatusCompleted
		a.Outcome = &final
		a.CompletedAt = &now
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		if a.CreateDiagnosis {
			if err := s.diagnoses.OpenForEncounter(ctx, a.ID, a.DoctorID, a.PatientID, final); err != nil {
				return err
			}
		}
		completed = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplAppointmentCompleted, completed, actor, completionRecipients(completed), nil)
	return completed, nil
}

// -- Reads --

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (View, error) {
	if id == uuid.Nil {
		return View{}, ErrInvalidID
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !a.Involves(actor) {
		return View{}, ErrNotAuthorized
	}
	return Project(actor.Role, a), nil
}

// List returns the actor's own appointments; admins see all of them.
func (s *Service) List(ctx context.Context, actor auth.Actor, status Status, limit, offset int) ([]View, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	f := ListFilter{Status: status}
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RoleDoctor:
		f.DoctorID = &actor.ID
	case auth.RolePatient:
		f.PatientID = &actor.ID
	default:
		return nil, 0, ErrNotAuthorized
	}

	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	views := make([]View, len(items))
	for i, a := range items {
		views[i] = Project(actor.Role, a)
	}
	return views, total, nil
}
