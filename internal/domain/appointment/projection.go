package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/auth"
)

// View is the response shape. Which fields are filled depends on the role
// of the caller.
type View struct {
	ID                   uuid.UUID  `json:"id"`
	DoctorID             uuid.UUID  `json:"doctor_id"`
	PatientID            uuid.UUID  `json:"patient_id"`
	ScheduledAt          time.Time  `json:"scheduled_at"`
	Reason               string     `json:"reason"`
	Status               Status     `json:"status"`
	PatientConfirmed     bool       `json:"patient_confirmed"`
	DoctorConfirmed      bool       `json:"doctor_confirmed"`
	AwaitingConfirmation bool       `json:"awaiting_confirmation"`
	UpdateReason         *string    `json:"update_reason,omitempty"`
	CancellationReason   *string    `json:"cancellation_reason,omitempty"`
	Outcome              *string    `json:"outcome,omitempty"`
	CreateDiagnosis      *bool      `json:"create_diagnosis,omitempty"`
	CreatedBy            *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy            *uuid.UUID `json:"updated_by,omitempty"`
	CancelledBy          *uuid.UUID `json:"cancelled_by,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	VersionID            *int64     `json:"version_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func baseView(a *Appointment) View {
	return View{
		ID:                   a.ID,
		DoctorID:             a.DoctorID,
		PatientID:            a.PatientID,
		ScheduledAt:          a.ScheduledAt,
		Reason:               a.Reason,
		Status:               a.Status,
		PatientConfirmed:     a.PatientConfirmed,
		DoctorConfirmed:      a.DoctorConfirmed,
		AwaitingConfirmation: a.Locked(),
		UpdateReason:         a.UpdateReason,
		CancellationReason:   a.CancellationReason,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

// ForPatient hides the clinician's working notes until the visit is
// completed.
func ForPatient(a *Appointment) View {
	v := baseView(a)
	if a.Status == StatusCompleted {
		v.Outcome = a.Outcome
		v.CompletedAt = a.CompletedAt
	}
	return v
}

func ForDoctor(a *Appointment) View {
	v := baseView(a)
	createDiagnosis := a.CreateDiagnosis
	v.Outcome = a.Outcome
	v.CreateDiagnosis = &createDiagnosis
	v.UpdatedBy = a.UpdatedBy
	v.CancelledBy = a.CancelledBy
	v.CompletedAt = a.CompletedAt
	return v
}

func ForAdmin(a *Appointment) View {
	v := ForDoctor(a)
	createdBy := a.CreatedBy
	version := a.VersionID
	v.CreatedBy = &createdBy
	v.VersionID = &version
	return v
}

// Project picks the view for role.
func Project(role auth.Role, a *Appointment) View {
	switch role {
	case auth.RoleAdmin:
		return ForAdmin(a)
	case auth.RoleDoctor:
		return ForDoctor(a)
	default:
		return ForPatient(a)
	}
}
