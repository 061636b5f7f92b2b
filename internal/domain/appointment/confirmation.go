package appointment

import (
	"time"

	"github.com/ehr/carecoord/internal/platform/auth"
)

// requestEdit takes the edit lock for actor. The editor's own side is
// pre-confirmed and the other side must confirm; an admin edit leaves both
// sides unconfirmed.
func requestEdit(a *Appointment, actor auth.Actor, now time.Time, cutoff time.Duration) error {
	if a.Locked() {
		return ErrEditLocked
	}
	if actor.Role == auth.RolePatient && a.Status == StatusConfirmed {
		return ErrAlreadyConfirmed
	}
	if a.ScheduledAt.Sub(now) < cutoff {
		return ErrTooLate
	}

	id := actor.ID
	a.PatientConfirmed = actor.Role == auth.RolePatient
	a.DoctorConfirmed = actor.Role == auth.RoleDoctor
	a.UpdatedBy = &id
	a.Status = StatusPending
	return nil
}

// confirm records actor's acceptance. When both sides have accepted, the edit
// lock is released and the appointment becomes CONFIRMED.
func confirm(a *Appointment, actor auth.Actor) error {
	if a.FullyConfirmed() {
		return ErrAlreadyConfirmed
	}
	if !actor.IsAdmin() && actor.ID == a.lastWriter() {
		return ErrSelfConfirmation
	}

	switch actor.Role {
	case auth.RoleAdmin:
		a.PatientConfirmed = true
		a.DoctorConfirmed = true
	case auth.RolePatient:
		if a.PatientConfirmed {
			return ErrAlreadyConfirmed
		}
		a.PatientConfirmed = true
	case auth.RoleDoctor:
		if a.DoctorConfirmed {
			return ErrAlreadyConfirmed
		}
		a.DoctorConfirmed = true
	default:
		return ErrNotAuthorized
	}

	if a.FullyConfirmed() {
		a.UpdatedBy = nil
		a.Status = StatusConfirmed
	} else {
		a.Status = StatusPending
	}
	return nil
}

// preconfirm sets the creator's own side on a new booking.
func preconfirm(a *Appointment, role auth.Role) {
	a.PatientConfirmed = role == auth.RolePatient
	a.DoctorConfirmed = role == auth.RoleDoctor
}
