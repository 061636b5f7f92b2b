package diagnosis

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/auth"
)

type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusCompleted Status = "COMPLETED"
)

type LabStatus string

const (
	LabPending   LabStatus = "PENDING"
	LabCompleted LabStatus = "COMPLETED"
	LabCancelled LabStatus = "CANCELLED"
)

type PrescriptionStatus string

const (
	RxActive    PrescriptionStatus = "ACTIVE"
	RxDispensed PrescriptionStatus = "DISPENSED"
	RxCancelled PrescriptionStatus = "CANCELLED"
)

// Diagnosis is the clinical record opened by a doctor for a patient,
// optionally as the follow-up of a completed appointment.
type Diagnosis struct {
	ID               uuid.UUID  `json:"id"`
	AppointmentID    *uuid.UUID `json:"appointment_id,omitempty"`
	DoctorID         uuid.UUID  `json:"doctor_id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	Status           Status     `json:"status"`
	Symptoms         *string    `json:"symptoms,omitempty"`
	Description      *string    `json:"description,omitempty"`
	Outcome          *string    `json:"outcome,omitempty"`
	RequiresLabTests bool       `json:"requires_lab_tests"`
	Prescribed       bool       `json:"prescribed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	VersionID        int64      `json:"version_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	LabResults    []*LabResult    `json:"lab_results,omitempty"`
	Prescriptions []*Prescription `json:"prescriptions,omitempty"`
}

type LabResult struct {
	ID                 uuid.UUID  `json:"id"`
	DiagnosisID        uuid.UUID  `json:"diagnosis_id"`
	LabTestCode        string     `json:"lab_test_code"`
	Status             LabStatus  `json:"status"`
	Result             *string    `json:"result,omitempty"`
	LabTechID          *uuid.UUID `json:"lab_tech_id,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type Prescription struct {
	ID              uuid.UUID          `json:"id"`
	DiagnosisID     uuid.UUID          `json:"diagnosis_id"`
	DrugCode        string             `json:"drug_code"`
	DosePerAdmin    string             `json:"dose_per_admin"`
	FrequencyPerDay string             `json:"frequency_per_day"`
	DurationDays    string             `json:"duration_days"`
	Instructions    *string            `json:"instructions,omitempty"`
	Status          PrescriptionStatus `json:"status"`
	DispensedBy     *uuid.UUID         `json:"dispensed_by,omitempty"`
	DispensedAt     *time.Time         `json:"dispensed_at,omitempty"`
	CancelledBy     *uuid.UUID         `json:"cancelled_by,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Involves reports whether actor may read d. Lab techs and pharmacists
// work across patients and see their own slice of every record.
func (d *Diagnosis) Involves(actor auth.Actor) bool {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleLabTech, auth.RolePharmacist:
		return true
	}
	return actor.ID == d.DoctorID || actor.ID == d.PatientID
}

func (d *Diagnosis) labResult(id uuid.UUID) *LabResult {
	for _, lr := range d.LabResults {
		if lr.ID == id {
			return lr
		}
	}
	return nil
}

func (d *Diagnosis) prescription(id uuid.UUID) *Prescription {
	for _, p := range d.Prescriptions {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// orderedTests returns the codes of lab tests that are not cancelled.
func (d *Diagnosis) orderedTests() map[string]bool {
	out := make(map[string]bool, len(d.LabResults))
	for _, lr := range d.LabResults {
		if lr.Status != LabCancelled {
			out[lr.LabTestCode] = true
		}
	}
	return out
}

type CreateInput struct {
	PatientID uuid.UUID
	Symptoms  *string
	LabTests  []string
}

type PrescriptionInput struct {
	DrugCode        string `json:"drug_code"`
	DosePerAdmin    string `json:"dose_per_admin"`
	FrequencyPerDay string `json:"frequency_per_day"`
	DurationDays    string `json:"duration_days"`
	Instructions    string `json:"instructions"`
}

type UpdateInput struct {
	Symptoms         *string
	Description      *string
	Outcome          *string
	Prescribed       *bool
	RequiresLabTests *bool
	LabTests         []string
	Prescriptions    []PrescriptionInput
}

func (in UpdateInput) empty() bool {
	return in.Symptoms == nil && in.Description == nil && in.Outcome == nil &&
		in.Prescribed == nil && in.RequiresLabTests == nil &&
		len(in.LabTests) == 0 && len(in.Prescriptions) == 0
}
