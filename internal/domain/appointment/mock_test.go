package appointment

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/directory"
	"github.com/ehr/carecoord/internal/platform/notification"
)

// -- Mock Repository --

type mockRepo struct {
	mu           sync.Mutex
	items        map[uuid.UUID]*Appointment
	staleUpdates int
	updateCalls  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Appointment)}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	a.VersionID = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.items[a.ID] = a.clone()
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.staleUpdates > 0 {
		m.staleUpdates--
		return ErrStaleVersion
	}
	stored, ok := m.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.VersionID != a.VersionID {
		return ErrStaleVersion
	}
	a.VersionID++
	a.UpdatedAt = time.Now()
	m.items[a.ID] = a.clone()
	return nil
}

func (m *mockRepo) FindNearby(_ context.Context, doctorID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.DoctorID != doctorID || a.ID == exclude || a.Status == StatusCancelled {
			continue
		}
		if a.ScheduledAt.Before(from) || a.ScheduledAt.After(to) {
			continue
		}
		out = append(out, a.clone())
	}
	return out, nil
}

func (m *mockRepo) LockDoctor(context.Context, uuid.UUID) error { return nil }

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a.clone())
	}
	return out, len(out), nil
}

func (m *mockRepo) stored(id uuid.UUID) *Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].clone()
}

// -- Mock Transactor --

type mockTx struct{}

func (mockTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Fake diagnosis opener --

type openCall struct {
	appointmentID, doctorID, patientID uuid.UUID
	outcome                            string
}

type fakeOpener struct {
	mu    sync.Mutex
	calls []openCall
	err   error
}

func (f *fakeOpener) OpenForEncounter(_ context.Context, appointmentID, doctorID, patientID uuid.UUID, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, openCall{appointmentID, doctorID, patientID, outcome})
	return nil
}

// -- Fixture --

// Monday 2026-03-02 10:00 UTC.
var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *mockRepo
	dir     *directory.Memory
	store   *notification.MemoryStore
	opener  *fakeOpener
	clock   time.Time
	doctor  auth.Actor
	patient auth.Actor
	admin   auth.Actor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMockRepo(),
		store:   notification.NewMemoryStore(),
		opener:  &fakeOpener{},
		clock:   baseTime,
		doctor:  auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor, Active: true},
		patient: auth.Actor{ID: uuid.New(), Role: auth.RolePatient, Active: true},
		admin:   auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin, Active: true},
	}
	f.dir = directory.NewMemory(
		directory.User{ID: f.doctor.ID, Role: auth.RoleDoctor, Active: true},
		directory.User{ID: f.patient.ID, Role: auth.RolePatient, Active: true},
		directory.User{ID: f.admin.ID, Role: auth.RoleAdmin, Active: true},
	)
	opts = append([]Option{WithClock(func() time.Time { return f.clock })}, opts...)
	f.svc = NewService(Deps{
		Repo:      f.repo,
		Tx:        mockTx{},
		Directory: f.dir,
		Notifier:  notification.NewDispatcher(f.store, zerolog.Nop()),
		Diagnoses: f.opener,
		Logger:    zerolog.Nop(),
	}, opts...)
	return f
}

func (f *fixture) newPatient() auth.Actor {
	p := auth.Actor{ID: uuid.New(), Role: auth.RolePatient, Active: true}
	f.dir.Put(directory.User{ID: p.ID, Role: auth.RolePatient, Active: true})
	return p
}

// book has the patient create an appointment at baseTime+offset.
func (f *fixture) book(t *testing.T, offset time.Duration) *Appointment {
	t.Helper()
	a, err := f.svc.Create(context.Background(), f.patient, CreateInput{
		DoctorID:    f.doctor.ID,
		ScheduledAt: baseTime.Add(offset),
		Reason:      "persistent cough",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return a
}

// bookConfirmed books and has the doctor confirm.
func (f *fixture) bookConfirmed(t *testing.T, offset time.Duration) *Appointment {
	t.Helper()
	a := f.book(t, offset)
	a, err := f.svc.Confirm(context.Background(), f.doctor, a.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return a
}

// messagesFor returns the SENT messages addressed to id.
func (f *fixture) messagesFor(id uuid.UUID) []string {
	var out []string
	for _, n := range f.store.ForRecipient(id) {
		if n.Status == notification.StatusSent {
			out = append(out, n.Message)
		}
	}
	return out
}

func containsAny(msgs []string, substr string) bool {
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func assertConsistent(t *testing.T, a *Appointment) {
	t.Helper()
	if !a.Consistent() {
		t.Errorf("confirmation invariant violated: status=%s patient=%v doctor=%v locked=%v",
			a.Status, a.PatientConfirmed, a.DoctorConfirmed, a.Locked())
	}
}
