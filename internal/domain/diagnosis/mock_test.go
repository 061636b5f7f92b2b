package diagnosis

import (
	"context"
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
	mu            sync.Mutex
	items         map[uuid.UUID]*Diagnosis
	labs          map[uuid.UUID]*LabResult
	prescriptions map[uuid.UUID]*Prescription
	failLabs      error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		items:         make(map[uuid.UUID]*Diagnosis),
		labs:          make(map[uuid.UUID]*LabResult),
		prescriptions: make(map[uuid.UUID]*Prescription),
	}
}

func (m *mockRepo) Create(_ context.Context, d *Diagnosis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.New()
	d.VersionID = 1
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	cp.LabResults, cp.Prescriptions = nil, nil
	m.items[d.ID] = &cp
	return nil
}

// assemble builds the aggregate from the row maps, like the pg repo does.
func (m *mockRepo) assemble(id uuid.UUID) (*Diagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *d
	out.LabResults, out.Prescriptions = nil, nil
	for _, lr := range m.labs {
		if lr.DiagnosisID == id {
			v := *lr
			out.LabResults = append(out.LabResults, &v)
		}
	}
	for _, p := range m.prescriptions {
		if p.DiagnosisID == id {
			v := *p
			out.Prescriptions = append(out.Prescriptions, &v)
		}
	}
	return &out, nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Diagnosis, error) {
	return m.assemble(id)
}

func (m *mockRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*Diagnosis, error) {
	return m.assemble(id)
}

func (m *mockRepo) Update(_ context.Context, d *Diagnosis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[d.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.VersionID != d.VersionID {
		return ErrStaleVersion
	}
	d.VersionID++
	d.UpdatedAt = time.Now()
	cp := *d
	cp.LabResults, cp.Prescriptions = nil, nil
	m.items[d.ID] = &cp
	return nil
}

func (m *mockRepo) AddLabResults(_ context.Context, rows []*LabResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLabs != nil {
		return m.failLabs
	}
	for _, lr := range rows {
		lr.ID = uuid.New()
		lr.CreatedAt = time.Now()
		v := *lr
		m.labs[lr.ID] = &v
	}
	return nil
}

func (m *mockRepo) AddPrescriptions(_ context.Context, rows []*Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range rows {
		p.ID = uuid.New()
		p.CreatedAt = time.Now()
		v := *p
		m.prescriptions[p.ID] = &v
	}
	return nil
}

func (m *mockRepo) LabResultParent(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lr, ok := m.labs[id]
	if !ok {
		return uuid.Nil, ErrLabResultNotFound
	}
	return lr.DiagnosisID, nil
}

func (m *mockRepo) PrescriptionParent(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prescriptions[id]
	if !ok {
		return uuid.Nil, ErrPrescriptionNotFound
	}
	return p.DiagnosisID, nil
}

func (m *mockRepo) UpdateLabResult(_ context.Context, lr *LabResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.labs[lr.ID]; !ok {
		return ErrLabResultNotFound
	}
	v := *lr
	m.labs[lr.ID] = &v
	return nil
}

func (m *mockRepo) UpdatePrescription(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prescriptions[p.ID]; !ok {
		return ErrPrescriptionNotFound
	}
	v := *p
	m.prescriptions[p.ID] = &v
	return nil
}

// -- Mock Transactor --

type mockTx struct{}

func (mockTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// -- Fixture --

type fixture struct {
	svc        *Service
	repo       *mockRepo
	dir        *directory.Memory
	store      *notification.MemoryStore
	doctor     auth.Actor
	patient    auth.Actor
	labTech    auth.Actor
	pharmacist auth.Actor
	admin      auth.Actor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:       newMockRepo(),
		store:      notification.NewMemoryStore(),
		doctor:     auth.Actor{ID: uuid.New(), Role: auth.RoleDoctor, Active: true},
		patient:    auth.Actor{ID: uuid.New(), Role: auth.RolePatient, Active: true},
		labTech:    auth.Actor{ID: uuid.New(), Role: auth.RoleLabTech, Active: true},
		pharmacist: auth.Actor{ID: uuid.New(), Role: auth.RolePharmacist, Active: true},
		admin:      auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin, Active: true},
	}
	users := make([]directory.User, 0, 5)
	for _, a := range []auth.Actor{f.doctor, f.patient, f.labTech, f.pharmacist, f.admin} {
		users = append(users, directory.User{ID: a.ID, Role: a.Role, Active: true})
	}
	f.dir = directory.NewMemory(users...)
	f.svc = NewService(Deps{
		Repo:      f.repo,
		Tx:        mockTx{},
		Directory: f.dir,
		Notifier:  notification.NewDispatcher(f.store, zerolog.Nop()),
		Logger:    zerolog.Nop(),
	}, opts...)
	return f
}

func (f *fixture) open(t *testing.T, tests ...string) *Diagnosis {
	t.Helper()
	d, err := f.svc.Create(context.Background(), f.doctor, CreateInput{PatientID: f.patient.ID, LabTests: tests})
	if err != nil {
		t.Fatalf("create diagnosis: %v", err)
	}
	return d
}

func (f *fixture) prescribe(t *testing.T, d *Diagnosis, drugs ...string) *Diagnosis {
	t.Helper()
	in := UpdateInput{}
	for _, drug := range drugs {
		in.Prescriptions = append(in.Prescriptions, PrescriptionInput{
			DrugCode: drug, DosePerAdmin: "500mg", FrequencyPerDay: "3", DurationDays: "7",
		})
	}
	d, err := f.svc.Update(context.Background(), f.doctor, d.ID, in)
	if err != nil {
		t.Fatalf("prescribe: %v", err)
	}
	return d
}

// finishLab records a result and completes the lab test.
func (f *fixture) finishLab(t *testing.T, id uuid.UUID) {
	t.Helper()
	if _, err := f.svc.UpdateLabResult(context.Background(), f.labTech, id, "within normal range"); err != nil {
		t.Fatalf("record result: %v", err)
	}
	if _, err := f.svc.CompleteLabResult(context.Background(), f.labTech, id); err != nil {
		t.Fatalf("complete lab: %v", err)
	}
}

func (f *fixture) messagesFor(id uuid.UUID) []*notification.Notification {
	return f.store.ForRecipient(id)
}
