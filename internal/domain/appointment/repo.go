package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate loads and row-locks the appointment for the rest of the
	// surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes a only if its VersionID still matches the stored row,
	// then bumps VersionID. A mismatch yields ErrStaleVersion.
	Update(ctx context.Context, a *Appointment) error
	// FindNearby lists non-cancelled appointments of doctorID scheduled in
	// [from, to], skipping exclude.
	FindNearby(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]*Appointment, error)
	// LockDoctor serializes bookings for one doctor until the transaction ends.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
}
