package diagnosis

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Diagnosis) error
	// GetByID loads the record together with its lab results and
	// prescriptions.
	GetByID(ctx context.Context, id uuid.UUID) (*Diagnosis, error)
	// GetForUpdate is GetByID holding a row lock on the diagnosis until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Diagnosis, error)
	// Update writes the diagnosis row only if VersionID still matches, then
	// bumps it. A mismatch yields ErrStaleVersion.
	Update(ctx context.Context, d *Diagnosis) error

	AddLabResults(ctx context.Context, rows []*LabResult) error
	AddPrescriptions(ctx context.Context, rows []*Prescription) error
	// LabResultParent and PrescriptionParent resolve the owning diagnosis.
	LabResultParent(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	PrescriptionParent(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	UpdateLabResult(ctx context.Context, lr *LabResult) error
	UpdatePrescription(ctx context.Context, p *Prescription) error
}
