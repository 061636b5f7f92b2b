package diagnosis

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

type Deps struct {
	Repo      Repository
	Tx        db.Transactor
	Directory directory.Directory
	Notifier  notification.Notifier
	Logger    zerolog.Logger
}

// Service owns every write to diagnoses, lab results and prescriptions.
// Completion goes through checkCompletion only.
type Service struct {
	repo      Repository
	tx        db.Transactor
	dir       directory.Directory
	notifier  notification.Notifier
	templates *notification.TemplateEngine
	locks     *db.KeyedMutex
	retries   int
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

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
		templates: notification.NewTemplateEngine(),
		locks:     db.NewKeyedMutex(),
		retries:   3,
		tracer:    otel.Tracer("github.com/ehr/carecoord/diagnosis"),
		logger:    d.Logger.With().Str("component", "diagnosis").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// transition runs fn in a transaction under the in-process lock for key,
// retrying infrastructure failures until ctx is done. key is the diagnosis id,
// or the patient id on create.
func (s *Service) transition(ctx context.Context, op string, key uuid.UUID, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "diagnosis."+op,
		trace.WithAttributes(attribute.String("diagnosis.key", key.String())))
	defer span.End()

	unlock := s.locks.Lock(key)
	defer unlock()

	var err error
	for attempt := 0; ; attempt++ {
		err = s.tx.WithTx(ctx, fn)
		if err == nil || !apperror.IsRetryable(err) || attempt >= s.retries || ctx.Err() != nil {
			break
		}
		s.metrics.ObserveRetry("diagnosis_" + op)
		s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("retrying diagnosis transition")
	}

	s.metrics.ObserveTransition("diagnosis_"+op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperror.CodeOf(err))
	}
	return err
}

func (s *Service) notify(ctx context.Context, tpl string, actor auth.Actor, eventID uuid.UUID, recipients []uuid.UUID, data map[string]string) {
	active, err := s.dir.ActiveOnly(ctx, recipients)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_id", eventID.String()).
			Msg("could not filter inactive recipients, notifying all")
		active = recipients
	}
	if data == nil {
		data = map[string]string{}
	}
	data["actor"] = string(actor.Role)
	s.notifier.Dispatch(ctx, s.templates.Event(tpl, data, actor.ID, eventID, active))
}

// normalizeTests trims codes and drops duplicates, keeping order.
func normalizeTests(codes []string) ([]string, error) {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, ErrInvalidLabTest
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func pendingLabs(diagnosisID uuid.UUID, codes []string) []*LabResult {
	rows := make([]*LabResult, len(codes))
	for i, c := range codes {
		rows[i] = &LabResult{DiagnosisID: diagnosisID, LabTestCode: c, Status: LabPending}
	}
	return rows
}

// -- Diagnosis --

// Create opens a diagnosis for a patient, ordering the given lab tests in the
// same transaction.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (*Diagnosis, error) {
	if !auth.HasExactRole(actor.Role, auth.RoleDoctor) {
		return nil, ErrNotAuthorized
	}
	if in.PatientID == uuid.Nil {
		return nil, ErrMissingPatient
	}
	tests, err := normalizeTests(in.LabTests)
	if err != nil {
		return nil, err
	}
	if err := s.checkPatient(ctx, in.PatientID); err != nil {
		return nil, err
	}

	var created *Diagnosis
	err = s.transition(ctx, "create", in.PatientID, func(ctx context.Context) error {
		d := &Diagnosis{
			DoctorID:         actor.ID,
			PatientID:        in.PatientID,
			Status:           StatusOpen,
			Symptoms:         trimmed(in.Symptoms),
			RequiresLabTests: len(tests) > 0,
		}
		if err := s.repo.Create(ctx, d); err != nil {
			return err
		}
		labs := pendingLabs(d.ID, tests)
		if err := s.repo.AddLabResults(ctx, labs); err != nil {
			return err
		}
		d.LabResults = labs
		created = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplDiagnosisOpened, actor, created.ID, []uuid.UUID{created.PatientID}, nil)
	return created, nil
}

func (s *Service) checkPatient(ctx context.Context, id uuid.UUID) error {
	u, err := s.dir.Lookup(ctx, id)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			return ErrPatientNotFound
		}
		return err
	}
	if !u.Active || u.Role != auth.RolePatient {
		return ErrPatientNotFound
	}
	return nil
}

// OpenForEncounter creates the OPEN diagnosis a completed appointment asked
// for. It joins the caller's transaction; the caller notifies.
func (s *Service) OpenForEncounter(ctx context.Context, appointmentID, doctorID, patientID uuid.UUID, outcome string) error {
	apptID := appointmentID
	d := &Diagnosis{
		AppointmentID: &apptID,
		DoctorID:      doctorID,
		PatientID:     patientID,
		Status:        StatusOpen,
	}
	if o := strings.TrimSpace(outcome); o != "" {
		d.Description = &o
	}
	return s.repo.Create(ctx, d)
}

// Update edits an open diagnosis. New lab orders and prescriptions are
// written in the same transaction as the record.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, in UpdateInput) (*Diagnosis, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}
	if in.empty() {
		return nil, ErrNothingToUpdate
	}
	tests, err := normalizeTests(in.LabTests)
	if err != nil {
		return nil, err
	}
	for _, p := range in.Prescriptions {
		if strings.TrimSpace(p.DrugCode) == "" || strings.TrimSpace(p.DosePerAdmin) == "" ||
			strings.TrimSpace(p.FrequencyPerDay) == "" || strings.TrimSpace(p.DurationDays) == "" {
			return nil, ErrInvalidPrescription
		}
	}

	var updated *Diagnosis
	err = s.transition(ctx, "update", id, func(ctx context.Context) error {
		d, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actor.ID != d.DoctorID {
			return ErrNotAuthorized
		}
		if d.Status == StatusCompleted {
			return ErrAlreadyCompleted
		}

		if in.Symptoms != nil {
			d.Symptoms = trimmed(in.Symptoms)
		}
		if in.Description != nil {
			d.Description = trimmed(in.Description)
		}
		if in.Outcome != nil {
			d.Outcome = trimmed(in.Outcome)
		}
		if in.RequiresLabTests != nil {
			d.RequiresLabTests = *in.RequiresLabTests
		}
		if in.Prescribed != nil {
			d.Prescribed = *in.Prescribed
		}

		ordered := d.orderedTests()
		var fresh []string
		for _, c := range tests {
			if !ordered[c] {
				fresh = append(fresh, c)
			}
		}
		labs := pendingLabs(d.ID, fresh)
		if err := s.repo.AddLabResults(ctx, labs); err != nil {
			return err
		}
		if len(tests) > 0 {
			d.RequiresLabTests = true
		}

		rx := make([]*Prescription, len(in.Prescriptions))
		for i, p := range in.Prescriptions {
			rx[i] = &Prescription{
				DiagnosisID:     d.ID,
				DrugCode:        strings.TrimSpace(p.DrugCode),
				DosePerAdmin:    strings.TrimSpace(p.DosePerAdmin),
				FrequencyPerDay: strings.TrimSpace(p.FrequencyPerDay),
				DurationDays:    strings.TrimSpace(p.DurationDays),
				Instructions:    trimmed(&p.Instructions),
				Status:          RxActive,
			}
			if *rx[i].Instructions == "" {
				rx[i].Instructions = nil
			}
		}
		if err := s.repo.AddPrescriptions(ctx, rx); err != nil {
			return err
		}
		if len(rx) > 0 {
			d.Prescribed = true
		}

		if err := s.repo.Update(ctx, d); err != nil {
			return err
		}
		d.LabResults = append(d.LabResults, labs...)
		d.Prescriptions = append(d.Prescriptions, rx...)
		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplDiagnosisUpdated, actor, updated.ID, []uuid.UUID{updated.PatientID}, nil)
	return updated, nil
}

// Complete closes the diagnosis once the completion gate passes.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Diagnosis, error) {
	if id == uuid.Nil {
		return nil, ErrInvalidID
	}

	var completed *Diagnosis
	err := s.transition(ctx, "complete", id, func(ctx context.Context) error {
		d, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if actor.Role != auth.RoleDoctor || actor.ID != d.DoctorID {
			return ErrNotAuthorized
		}
		if d.Status == StatusCompleted {
			return ErrAlreadyCompleted
		}
		if err := checkCompletion(d); err != nil {
			return err
		}
		now := s.now().UTC()
		d.Status = StatusCompleted
		d.CompletedAt = &now
		if err := s.repo.Update(ctx, d); err != nil {
			return err
		}
		completed = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplDiagnosisCompleted, actor, completed.ID, []uuid.UUID{completed.PatientID}, nil)
	return completed, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (View, error) {
	if id == uuid.Nil {
		return View{}, ErrInvalidID
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !d.Involves(actor) {
		return View{}, ErrNotAuthorized
	}
	return Project(actor.Role, d), nil
}
