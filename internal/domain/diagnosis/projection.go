package diagnosis

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/auth"
)

// View is the role-dependent response shape of a diagnosis.
type View struct {
	ID               uuid.UUID       `json:"id"`
	AppointmentID    *uuid.UUID      `json:"appointment_id,omitempty"`
	DoctorID         uuid.UUID       `json:"doctor_id"`
	PatientID        uuid.UUID       `json:"patient_id"`
	Status           Status          `json:"status"`
	Symptoms         *string         `json:"symptoms,omitempty"`
	Description      *string         `json:"description,omitempty"`
	Outcome          *string         `json:"outcome,omitempty"`
	RequiresLabTests *bool           `json:"requires_lab_tests,omitempty"`
	Prescribed       *bool           `json:"prescribed,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	VersionID        *int64          `json:"version_id,omitempty"`
	LabResults       []*LabResult    `json:"lab_results,omitempty"`
	Prescriptions    []*Prescription `json:"prescriptions,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func header(d *Diagnosis) View {
	return View{
		ID:        d.ID,
		DoctorID:  d.DoctorID,
		PatientID: d.PatientID,
		Status:    d.Status,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func ForClinician(d *Diagnosis) View {
	v := header(d)
	requires, prescribed := d.RequiresLabTests, d.Prescribed
	v.AppointmentID = d.AppointmentID
	v.Symptoms = d.Symptoms
	v.Description = d.Description
	v.Outcome = d.Outcome
	v.RequiresLabTests = &requires
	v.Prescribed = &prescribed
	v.CompletedAt = d.CompletedAt
	v.LabResults = d.LabResults
	v.Prescriptions = d.Prescriptions
	return v
}

func ForAdmin(d *Diagnosis) View {
	v := ForClinician(d)
	version := d.VersionID
	v.VersionID = &version
	return v
}

// ForPatient shows finished lab results and dispensed prescriptions only.
func ForPatient(d *Diagnosis) View {
	v := header(d)
	v.AppointmentID = d.AppointmentID
	v.Symptoms = d.Symptoms
	v.Description = d.Description
	v.Outcome = d.Outcome
	v.CompletedAt = d.CompletedAt
	for _, lr := range d.LabResults {
		if lr.Status == LabCompleted {
			v.LabResults = append(v.LabResults, lr)
		}
	}
	for _, p := range d.Prescriptions {
		if p.Status == RxDispensed {
			v.Prescriptions = append(v.Prescriptions, p)
		}
	}
	return v
}

func ForLabTech(d *Diagnosis) View {
	v := header(d)
	v.LabResults = d.LabResults
	return v
}

func ForPharmacist(d *Diagnosis) View {
	v := header(d)
	v.Prescriptions = d.Prescriptions
	return v
}

// Project picks the view for role.
func Project(role auth.Role, d *Diagnosis) View {
	switch role {
	case auth.RoleAdmin:
		return ForAdmin(d)
	case auth.RoleDoctor:
		return ForClinician(d)
	case auth.RoleLabTech:
		return ForLabTech(d)
	case auth.RolePharmacist:
		return ForPharmacist(d)
	default:
		return ForPatient(d)
	}
}
