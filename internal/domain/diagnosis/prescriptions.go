package diagnosis

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/notification"
)

func (s *Service) onPrescription(ctx context.Context, op string, id uuid.UUID, fn func(d *Diagnosis, p *Prescription) error) (*Diagnosis, *Prescription, error) {
	if id == uuid.Nil {
		return nil, nil, ErrInvalidID
	}
	parent, err := s.repo.PrescriptionParent(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var (
		diag *Diagnosis
		rx   *Prescription
	)
	err = s.transition(ctx, op, parent, func(ctx context.Context) error {
		d, err := s.repo.GetForUpdate(ctx, parent)
		if err != nil {
			return err
		}
		p := d.prescription(id)
		if p == nil {
			return ErrPrescriptionNotFound
		}
		if err := fn(d, p); err != nil {
			return err
		}
		if err := s.repo.UpdatePrescription(ctx, p); err != nil {
			return err
		}
		diag, rx = d, p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return diag, rx, nil
}

func closedPrescription(p *Prescription) error {
	switch p.Status {
	case RxDispensed:
		return ErrAlreadyDispensed
	case RxCancelled:
		return ErrPrescriptionCancelled
	}
	return nil
}

// DispensePrescription hands out an active prescription. Both the clinician
// and the patient are told.
func (s *Service) DispensePrescription(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
	if !auth.HasExactRole(actor.Role, auth.RolePharmacist) {
		return nil, ErrNotAuthorized
	}

	d, p, err := s.onPrescription(ctx, "rx_dispense", id, func(_ *Diagnosis, p *Prescription) error {
		if err := closedPrescription(p); err != nil {
			return err
		}
		now := s.now().UTC()
		by := actor.ID
		p.Status = RxDispensed
		p.DispensedBy = &by
		p.DispensedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplPrescriptionDispensed, actor, p.ID, []uuid.UUID{d.DoctorID, d.PatientID},
		map[string]string{"drug": p.DrugCode})
	return p, nil
}

// CancelPrescription withdraws an active prescription of an open diagnosis.
// Once the diagnosis is completed its prescriptions are part of the closed
// record.
func (s *Service) CancelPrescription(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Prescription, error) {
	_, p, err := s.onPrescription(ctx, "rx_cancel", id, func(d *Diagnosis, p *Prescription) error {
		if actor.ID != d.DoctorID {
			return ErrNotAuthorized
		}
		if d.Status == StatusCompleted {
			return ErrAlreadyCompleted
		}
		if err := closedPrescription(p); err != nil {
			return err
		}
		by := actor.ID
		p.Status = RxCancelled
		p.CancelledBy = &by
		return nil
	})
	return p, err
}
