package appointment

import (
	"net/http"

	"github.com/ehr/carecoord/internal/platform/apperror"
)

var (
	ErrInvalidID            = apperror.Validation("INVALID_ID", "invalid appointment id")
	ErrInvalidDate          = apperror.Validation("INVALID_DATE", "date must be in the future and within the booking horizon")
	ErrInvalidReason        = apperror.Validation("INVALID_REASON", "reason must be between 3 and 1000 characters")
	ErrInvalidSlot          = apperror.Validation("INVALID_SLOT", "time is outside clinic service hours")
	ErrUpdateReasonRequired = apperror.Validation("UPDATE_REASON_REQUIRED", "update reason is required")
	ErrNothingToUpdate      = apperror.Validation("NOTHING_TO_UPDATE", "either reason or date must be provided")
	ErrNotesRequired        = apperror.Validation("NOTES_REQUIRED", "at least one of outcome or create_diagnosis must be provided")
	ErrCancelReason         = apperror.Validation("CANCEL_REASON_REQUIRED", "cancellation reason must be at least 5 characters")
	ErrInvalidStatus        = apperror.Validation("INVALID_STATUS", "unknown appointment status")
	ErrMissingParty         = apperror.Validation("MISSING_PARTY", "doctor_id and patient_id are required")

	ErrNotFound       = apperror.NotFound("APPOINTMENT_NOT_FOUND", "appointment not found")
	ErrTargetNotFound = apperror.NotFound("TARGET_NOT_FOUND", "doctor or patient does not exist or is inactive")

	ErrNotAuthorized = apperror.Authorization("NOT_AUTHORIZED", "not allowed to act on this appointment")

	ErrEditLocked       = apperror.Precondition("EDIT_LOCKED", "a previous edit is awaiting confirmation")
	ErrAlreadyConfirmed = apperror.Precondition("ALREADY_CONFIRMED", "appointment is already confirmed")
	ErrTooLate          = apperror.Precondition("TOO_LATE", "appointment can no longer be edited")
	ErrSelfConfirmation = apperror.Precondition("SELF_CONFIRMATION", "the other party must confirm this change")
	ErrSlotConflict     = apperror.Precondition("SLOT_CONFLICT", "doctor already has an appointment near this time")
	ErrAlreadyCancelled = apperror.Precondition("ALREADY_CANCELLED", "appointment is already closed")
	ErrAlreadyCompleted = apperror.Precondition("ALREADY_COMPLETED", "appointment is already completed")
	ErrNotConfirmed     = apperror.Precondition("NOT_CONFIRMED", "appointment must be confirmed before completion")
	ErrOutcomeRequired  = apperror.Precondition("OUTCOME_REQUIRED", "an outcome is required to complete the appointment").
				WithStatus(http.StatusUnprocessableEntity)

	// ErrStaleVersion means a concurrent writer won the compare-and-swap.
	// It is an infrastructure error so the transition is retried.
	ErrStaleVersion = &apperror.Error{
		Kind:    apperror.KindInfrastructure,
		Code:    "STALE_VERSION",
		Message: "appointment modified concurrently",
	}
)

// terminalError maps a closed appointment to its precondition error.
func terminalError(s Status) error {
	if s == StatusCompleted {
		return ErrAlreadyCompleted
	}
	return ErrAlreadyCancelled
}
