package diagnosis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/carecoord/internal/platform/apperror"
	"github.com/ehr/carecoord/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const diagCols = `id, appointment_id, doctor_id, patient_id, status, symptoms, description,
	outcome, requires_lab_tests, prescribed, completed_at, version_id, created_at, updated_at`

const labCols = `id, diagnosis_id, lab_test_code, status, result, lab_tech_id, cancelled_by,
	cancellation_reason, completed_at, created_at, updated_at`

const rxCols = `id, diagnosis_id, drug_code, dose_per_admin, frequency_per_day, duration_days,
	instructions, status, dispensed_by, dispensed_at, cancelled_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, d *Diagnosis) error {
	d.ID = uuid.New()
	d.VersionID = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnosis (id, appointment_id, doctor_id, patient_id, status, symptoms,
			description, outcome, requires_lab_tests, prescribed, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		d.ID, d.AppointmentID, d.DoctorID, d.PatientID, string(d.Status), d.Symptoms,
		d.Description, d.Outcome, d.RequiresLabTests, d.Prescribed, d.VersionID,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return apperror.Infrastructure("insert diagnosis", err)
	}
	return nil
}

func (r *repoPG) load(ctx context.Context, query string, id uuid.UUID) (*Diagnosis, error) {
	var d Diagnosis
	err := r.conn(ctx).QueryRow(ctx, query, id).Scan(
		&d.ID, &d.AppointmentID, &d.DoctorID, &d.PatientID, &d.Status, &d.Symptoms, &d.Description,
		&d.Outcome, &d.RequiresLabTests, &d.Prescribed, &d.CompletedAt, &d.VersionID, &d.CreatedAt, &d.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperror.Infrastructure("load diagnosis", err)
	}
	if d.LabResults, err = r.labResults(ctx, d.ID); err != nil {
		return nil, err
	}
	if d.Prescriptions, err = r.prescriptions(ctx, d.ID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return r.load(ctx, `SELECT `+diagCols+` FROM diagnosis WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	return r.load(ctx, `SELECT `+diagCols+` FROM diagnosis WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) labResults(ctx context.Context, diagnosisID uuid.UUID) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+labCols+` FROM lab_result WHERE diagnosis_id = $1 ORDER BY created_at, id`, diagnosisID)
	if err != nil {
		return nil, apperror.Infrastructure("query lab results", err)
	}
	defer rows.Close()
	var items []*LabResult
	for rows.Next() {
		var lr LabResult
		if err := rows.Scan(&lr.ID, &lr.DiagnosisID, &lr.LabTestCode, &lr.Status, &lr.Result, &lr.LabTechID,
			&lr.CancelledBy, &lr.CancellationReason, &lr.CompletedAt, &lr.CreatedAt, &lr.UpdatedAt); err != nil {
			return nil, apperror.Infrastructure("scan lab result", err)
		}
		items = append(items, &lr)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Infrastructure("query lab results", err)
	}
	return items, nil
}

func (r *repoPG) prescriptions(ctx context.Context, diagnosisID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+rxCols+` FROM prescription WHERE diagnosis_id = $1 ORDER BY created_at, id`, diagnosisID)
	if err != nil {
		return nil, apperror.Infrastructure("query prescriptions", err)
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		var p Prescription
		if err := rows.Scan(&p.ID, &p.DiagnosisID, &p.DrugCode, &p.DosePerAdmin, &p.FrequencyPerDay,
			&p.DurationDays, &p.Instructions, &p.Status, &p.DispensedBy, &p.DispensedAt, &p.CancelledBy,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperror.Infrastructure("scan prescription", err)
		}
		items = append(items, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Infrastructure("query prescriptions", err)
	}
	return items, nil
}

func (r *repoPG) Update(ctx context.Context, d *Diagnosis) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE diagnosis SET status=$3, symptoms=$4, description=$5, outcome=$6,
			requires_lab_tests=$7, prescribed=$8, completed_at=$9,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		d.ID, d.VersionID, string(d.Status), d.Symptoms, d.Description, d.Outcome,
		d.RequiresLabTests, d.Prescribed, d.CompletedAt,
	).Scan(&d.VersionID, &d.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrStaleVersion
	}
	if err != nil {
		return apperror.Infrastructure("update diagnosis", err)
	}
	return nil
}

// AddLabResults bulk-loads the rows with COPY.
func (r *repoPG) AddLabResults(ctx context.Context, rows []*LabResult) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	src := make([][]interface{}, len(rows))
	for i, lr := range rows {
		lr.ID = uuid.New()
		lr.CreatedAt, lr.UpdatedAt = now, now
		src[i] = []interface{}{lr.ID, lr.DiagnosisID, lr.LabTestCode, string(lr.Status), lr.CreatedAt, lr.UpdatedAt}
	}
	_, err := r.conn(ctx).CopyFrom(ctx, pgx.Identifier{"lab_result"},
		[]string{"id", "diagnosis_id", "lab_test_code", "status", "created_at", "updated_at"},
		pgx.CopyFromRows(src))
	if err != nil {
		return apperror.Infrastructure("insert lab results", err)
	}
	return nil
}

func (r *repoPG) AddPrescriptions(ctx context.Context, rows []*Prescription) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	src := make([][]interface{}, len(rows))
	for i, p := range rows {
		p.ID = uuid.New()
		p.CreatedAt, p.UpdatedAt = now, now
		src[i] = []interface{}{p.ID, p.DiagnosisID, p.DrugCode, p.DosePerAdmin, p.FrequencyPerDay,
			p.DurationDays, p.Instructions, string(p.Status), p.CreatedAt, p.UpdatedAt}
	}
	_, err := r.conn(ctx).CopyFrom(ctx, pgx.Identifier{"prescription"},
		[]string{"id", "diagnosis_id", "drug_code", "dose_per_admin", "frequency_per_day",
			"duration_days", "instructions", "status", "created_at", "updated_at"},
		pgx.CopyFromRows(src))
	if err != nil {
		return apperror.Infrastructure("insert prescriptions", err)
	}
	return nil
}

func (r *repoPG) parent(ctx context.Context, query string, id uuid.UUID, notFound error) (uuid.UUID, error) {
	var parent uuid.UUID
	err := r.conn(ctx).QueryRow(ctx, query, id).Scan(&parent)
	if db.IsNoRows(err) {
		return uuid.Nil, notFound
	}
	if err != nil {
		return uuid.Nil, apperror.Infrastructure("resolve diagnosis", err)
	}
	return parent, nil
}

func (r *repoPG) LabResultParent(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	return r.parent(ctx, `SELECT diagnosis_id FROM lab_result WHERE id = $1`, id, ErrLabResultNotFound)
}

func (r *repoPG) PrescriptionParent(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	return r.parent(ctx, `SELECT diagnosis_id FROM prescription WHERE id = $1`, id, ErrPrescriptionNotFound)
}

func (r *repoPG) UpdateLabResult(ctx context.Context, lr *LabResult) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE lab_result SET status=$2, result=$3, lab_tech_id=$4, cancelled_by=$5,
			cancellation_reason=$6, completed_at=$7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		lr.ID, string(lr.Status), lr.Result, lr.LabTechID, lr.CancelledBy,
		lr.CancellationReason, lr.CompletedAt,
	).Scan(&lr.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrLabResultNotFound
	}
	if err != nil {
		return apperror.Infrastructure("update lab result", err)
	}
	return nil
}

func (r *repoPG) UpdatePrescription(ctx context.Context, p *Prescription) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE prescription SET status=$2, dispensed_by=$3, dispensed_at=$4, cancelled_by=$5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, string(p.Status), p.DispensedBy, p.DispensedAt, p.CancelledBy,
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrPrescriptionNotFound
	}
	if err != nil {
		return apperror.Infrastructure("update prescription", err)
	}
	return nil
}
