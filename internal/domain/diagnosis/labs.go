package diagnosis

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/carecoord/internal/platform/auth"
	"github.com/ehr/carecoord/internal/platform/notification"
)

// onLabResult resolves the parent diagnosis of a lab result and runs fn on
// both under the diagnosis lock. Lab results of a completed diagnosis are
// frozen.
func (s *Service) onLabResult(ctx context.Context, op string, id uuid.UUID, fn func(d *Diagnosis, lr *LabResult) error) (*Diagnosis, *LabResult, error) {
	if id == uuid.Nil {
		return nil, nil, ErrInvalidID
	}
	parent, err := s.repo.LabResultParent(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var (
		diag   *Diagnosis
		result *LabResult
	)
	err = s.transition(ctx, op, parent, func(ctx context.Context) error {
		d, err := s.repo.GetForUpdate(ctx, parent)
		if err != nil {
			return err
		}
		lr := d.labResult(id)
		if lr == nil {
			return ErrLabResultNotFound
		}
		if err := fn(d, lr); err != nil {
			return err
		}
		if err := s.repo.UpdateLabResult(ctx, lr); err != nil {
			return err
		}
		diag, result = d, lr
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return diag, result, nil
}

// UpdateLabResult records the result text of a pending lab test.
func (s *Service) UpdateLabResult(ctx context.Context, actor auth.Actor, id uuid.UUID, result string) (*LabResult, error) {
	if !auth.HasExactRole(actor.Role, auth.RoleLabTech) {
		return nil, ErrNotAuthorized
	}
	result = strings.TrimSpace(result)
	if len([]rune(result)) < 3 {
		return nil, ErrInvalidResult
	}

	_, lr, err := s.onLabResult(ctx, "lab_update", id, func(d *Diagnosis, lr *LabResult) error {
		if d.Status == StatusCompleted {
			return ErrAlreadyCompleted
		}
		if lr.Status != LabPending {
			return ErrLabResultClosed
		}
		tech := actor.ID
		lr.Result = &result
		lr.LabTechID = &tech
		return nil
	})
	return lr, err
}

// CompleteLabResult finalizes a lab test that has a recorded result and tells
// the clinician.
func (s *Service) CompleteLabResult(ctx context.Context, actor auth.Actor, id uuid.UUID) (*LabResult, error) {
	if !auth.HasExactRole(actor.Role, auth.RoleLabTech) {
		return nil, ErrNotAuthorized
	}

	d, lr, err := s.onLabResult(ctx, "lab_complete", id, func(d *Diagnosis, lr *LabResult) error {
		if d.Status == StatusCompleted {
			return ErrAlreadyCompleted
		}
		if lr.Status != LabPending {
			return ErrLabResultClosed
		}
		if lr.Result == nil || *lr.Result == "" {
			return ErrResultRequired
		}
		now := s.now().UTC()
		tech := actor.ID
		lr.Status = LabCompleted
		lr.CompletedAt = &now
		lr.LabTechID = &tech
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TplLabResultCompleted, actor, lr.ID, []uuid.UUID{d.DoctorID}, map[string]string{
		"test":      lr.LabTestCode,
		"diagnosis": d.ID.String(),
	})
	return lr, nil
}

// CancelLabResult withdraws a pending lab order. Only the diagnosing
// clinician may cancel.
func (s *Service) CancelLabResult(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*LabResult, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < 5 {
		return nil, ErrCancelReason
	}

	_, lr, err := s.onLabResult(ctx, "lab_cancel", id, func(d *Diagnosis, lr *LabResult) error {
		if actor.ID != d.DoctorID {
			return ErrNotAuthorized
		}
		if d.Status == StatusCompleted {
			return ErrAlreadyCompleted
		}
		if lr.Status != LabPending {
			return ErrLabResultClosed
		}
		by := actor.ID
		lr.Status = LabCancelled
		lr.CancelledBy = &by
		lr.CancellationReason = &reason
		return nil
	})
	return lr, err
}
