package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Rules are the clinic's booking rules.
type Rules struct {
	Location *time.Location
	// WindowStart and WindowEnd bound bookable times as offsets from local
	// midnight. The start is inclusive, the end exclusive.
	WindowStart    time.Duration
	WindowEnd      time.Duration
	ConflictWindow time.Duration
	EditCutoff     time.Duration
	BookingHorizon time.Duration
}

func DefaultRules() Rules {
	return Rules{
		Location:       time.UTC,
		WindowStart:    9 * time.Hour,
		WindowEnd:      17 * time.Hour,
		ConflictWindow: 60 * time.Minute,
		EditCutoff:     24 * time.Hour,
		BookingHorizon: 365 * 24 * time.Hour,
	}
}

func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// InServiceWindow reports whether t falls inside clinic hours in the clinic's
// timezone.
func (r Rules) InServiceWindow(t time.Time) bool {
	h, m, sec := t.In(r.location()).Clock()
	offset := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	return offset >= r.WindowStart && offset < r.WindowEnd
}

// checkDate validates a requested time relative to now.
func (r Rules) checkDate(t, now time.Time) error {
	if t.IsZero() || !t.After(now) || t.After(now.Add(r.BookingHorizon)) {
		return ErrInvalidDate
	}
	if !r.InServiceWindow(t) {
		return ErrInvalidSlot
	}
	return nil
}

// ConflictDetector finds bookings too close to a proposed slot.
type ConflictDetector struct {
	repo  Repository
	rules Rules
}

func NewConflictDetector(repo Repository, rules Rules) *ConflictDetector {
	return &ConflictDetector{repo: repo, rules: rules}
}

// HasConflict reports whether doctorID has a non-cancelled appointment within
// the conflict window of at, on either side and inclusive. exclude skips one
// appointment, so a reschedule does not collide with itself.
func (d *ConflictDetector) HasConflict(ctx context.Context, doctorID uuid.UUID, at time.Time, exclude uuid.UUID) (bool, error) {
	if !d.rules.InServiceWindow(at) {
		return false, ErrInvalidSlot
	}
	nearby, err := d.repo.FindNearby(ctx, doctorID, at.Add(-d.rules.ConflictWindow), at.Add(d.rules.ConflictWindow), exclude)
	if err != nil {
		return false, err
	}
	return len(nearby) > 0, nil
}
