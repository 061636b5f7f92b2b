package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/auth"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusConfirmed: true, StatusCancelled: true, StatusCompleted: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Appointment is one encounter between a doctor and a patient.
type Appointment struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Reason      string    `json:"reason"`
	Status      Status    `json:"status"`
	CreatedBy   uuid.UUID `json:"created_by"`
	// UpdatedBy is the edit lock: set by an edit, cleared when the other
	// side confirms it.
	UpdatedBy          *uuid.UUID `json:"updated_by,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	UpdateReason       *string    `json:"update_reason,omitempty"`
	PatientConfirmed   bool       `json:"patient_confirmed"`
	DoctorConfirmed    bool       `json:"doctor_confirmed"`
	Outcome            *string    `json:"outcome,omitempty"`
	CreateDiagnosis    bool       `json:"create_diagnosis"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	VersionID          int64      `json:"version_id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Involves reports whether actor is a party to the appointment or an admin.
func (a *Appointment) Involves(actor auth.Actor) bool {
	return actor.IsAdmin() || actor.ID == a.DoctorID || actor.ID == a.PatientID
}

// Locked reports whether an edit is waiting for confirmation.
func (a *Appointment) Locked() bool {
	return a.UpdatedBy != nil
}

// FullyConfirmed is true when both parties accepted the current details.
func (a *Appointment) FullyConfirmed() bool {
	return a.PatientConfirmed && a.DoctorConfirmed
}

// lastWriter is the actor whose change is awaiting the other side.
func (a *Appointment) lastWriter() uuid.UUID {
	if a.UpdatedBy != nil {
		return *a.UpdatedBy
	}
	return a.CreatedBy
}

// Consistent checks the confirmation invariant for live appointments:
// CONFIRMED exactly when both flags are set, and a confirmed appointment
// carries no edit lock.
func (a *Appointment) Consistent() bool {
	if a.Status.Terminal() {
		return true
	}
	if (a.Status == StatusConfirmed) != a.FullyConfirmed() {
		return false
	}
	return !(a.Status == StatusConfirmed && a.Locked())
}

func (a *Appointment) clone() *Appointment {
	cp := *a
	if a.UpdatedBy != nil {
		v := *a.UpdatedBy
		cp.UpdatedBy = &v
	}
	if a.CancelledBy != nil {
		v := *a.CancelledBy
		cp.CancelledBy = &v
	}
	if a.CancellationReason != nil {
		v := *a.CancellationReason
		cp.CancellationReason = &v
	}
	if a.UpdateReason != nil {
		v := *a.UpdateReason
		cp.UpdateReason = &v
	}
	if a.Outcome != nil {
		v := *a.Outcome
		cp.Outcome = &v
	}
	if a.CompletedAt != nil {
		v := *a.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}

// CreateInput carries a booking request. Role injection fills whichever id
// belongs to the caller.
type CreateInput struct {
	DoctorID    uuid.UUID
	PatientID   uuid.UUID
	ScheduledAt time.Time
	Reason      string
}

// UpdateInput carries an edit. At least one of Reason or ScheduledAt is set.
type UpdateInput struct {
	Reason       *string
	ScheduledAt  *time.Time
	UpdateReason string
}

// NotesInput records the clinician's notes ahead of completion.
type NotesInput struct {
	Outcome         *string
	CreateDiagnosis *bool
}

type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    Status
}
