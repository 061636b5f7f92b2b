package appointment

import (
	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/auth"
)

// resolveRecipients returns who hears about a change made by someone in
// actorRole: the other party for a doctor or patient, both parties for
// anyone else.
func resolveRecipients(actorRole auth.Role, a *Appointment) []uuid.UUID {
	switch actorRole {
	case auth.RoleDoctor:
		return []uuid.UUID{a.PatientID}
	case auth.RolePatient:
		return []uuid.UUID{a.DoctorID}
	default:
		return []uuid.UUID{a.DoctorID, a.PatientID}
	}
}

// completionRecipients is the patient only.
func completionRecipients(a *Appointment) []uuid.UUID {
	return []uuid.UUID{a.PatientID}
}
