package appointment

import (
	"context"
	"fmt"
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

const apptCols = `id, doctor_id, patient_id, scheduled_at, reason, status,
	created_by, updated_by, cancelled_by, cancellation_reason, update_reason,
	patient_confirmed, doctor_confirmed, outcome, create_diagnosis, completed_at,
	version_id, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.ScheduledAt, &a.Reason, &a.Status,
		&a.CreatedBy, &a.UpdatedBy, &a.CancelledBy, &a.CancellationReason, &a.UpdateReason,
		&a.PatientConfirmed, &a.DoctorConfirmed, &a.Outcome, &a.CreateDiagnosis, &a.CompletedAt,
		&a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.VersionID = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, doctor_id, patient_id, scheduled_at, reason, status,
			created_by, patient_confirmed, doctor_confirmed, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.DoctorID, a.PatientID, a.ScheduledAt, a.Reason, string(a.Status),
		a.CreatedBy, a.PatientConfirmed, a.DoctorConfirmed, a.VersionID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return apperror.Infrastructure("insert appointment", err)
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Appointment, error) {
	a, err := r.scan(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperror.Infrastructure("load appointment", err)
	}
	return a, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET scheduled_at=$3, reason=$4, status=$5, updated_by=$6,
			cancelled_by=$7, cancellation_reason=$8, update_reason=$9,
			patient_confirmed=$10, doctor_confirmed=$11, outcome=$12, create_diagnosis=$13,
			completed_at=$14, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		a.ID, a.VersionID, a.ScheduledAt, a.Reason, string(a.Status), a.UpdatedBy,
		a.CancelledBy, a.CancellationReason, a.UpdateReason,
		a.PatientConfirmed, a.DoctorConfirmed, a.Outcome, a.CreateDiagnosis,
		a.CompletedAt,
	).Scan(&a.VersionID, &a.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrStaleVersion
	}
	if err != nil {
		return apperror.Infrastructure("update appointment", err)
	}
	return nil
}

func (r *repoPG) FindNearby(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND status <> 'CANCELLED'
			AND scheduled_at BETWEEN $2 AND $3 AND id <> $4
		ORDER BY scheduled_at`, doctorID, from, to, exclude)
	if err != nil {
		return nil, apperror.Infrastructure("query nearby appointments", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, apperror.Infrastructure("scan appointment", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Infrastructure("query nearby appointments", err)
	}
	return items, nil
}

func (r *repoPG) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if err := db.LockKey(ctx, "appointment:doctor:"+doctorID.String()); err != nil {
		return apperror.Infrastructure("lock doctor schedule", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperror.Infrastructure("count appointments", err)
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperror.Infrastructure("list appointments", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, apperror.Infrastructure("scan appointment", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperror.Infrastructure("list appointments", err)
	}
	return items, total, nil
}
