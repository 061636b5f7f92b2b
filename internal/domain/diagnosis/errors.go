package diagnosis

import "github.com/ehr/carecoord/internal/platform/apperror"

var (
	ErrInvalidID           = apperror.Validation("INVALID_ID", "invalid id")
	ErrMissingPatient      = apperror.Validation("MISSING_PATIENT", "patient_id is required")
	ErrInvalidLabTest      = apperror.Validation("INVALID_LAB_TEST", "lab test codes must not be blank")
	ErrInvalidPrescription = apperror.Validation("INVALID_PRESCRIPTION", "prescriptions need drug, dose, frequency and duration")
	ErrNothingToUpdate     = apperror.Validation("NOTHING_TO_UPDATE", "at least one field must be provided")
	ErrInvalidResult       = apperror.Validation("INVALID_RESULT", "result must be at least 3 characters")
	ErrCancelReason        = apperror.Validation("CANCEL_REASON_REQUIRED", "cancellation reason must be at least 5 characters")

	ErrNotFound             = apperror.NotFound("DIAGNOSIS_NOT_FOUND", "diagnosis not found")
	ErrLabResultNotFound    = apperror.NotFound("LAB_RESULT_NOT_FOUND", "lab result not found")
	ErrPrescriptionNotFound = apperror.NotFound("PRESCRIPTION_NOT_FOUND", "prescription not found")
	ErrPatientNotFound      = apperror.NotFound("TARGET_NOT_FOUND", "patient does not exist or is inactive")

	ErrNotAuthorized = apperror.Authorization("NOT_AUTHORIZED", "not allowed to act on this diagnosis")

	ErrAlreadyCompleted      = apperror.Precondition("ALREADY_COMPLETED", "diagnosis is already completed")
	ErrLabResultsPending     = apperror.Precondition("LAB_RESULTS_PENDING", "all lab results must be completed first")
	ErrLabResultsMissing     = apperror.Precondition("LAB_RESULTS_MISSING", "lab tests are required but none were ordered")
	ErrPrescriptionMissing   = apperror.Precondition("PRESCRIPTION_MISSING", "a prescription is required but none exists")
	ErrResultRequired        = apperror.Precondition("RESULT_REQUIRED", "record a result before completing the lab test")
	ErrLabResultClosed       = apperror.Precondition("LAB_RESULT_CLOSED", "lab result is no longer pending")
	ErrAlreadyDispensed      = apperror.Precondition("ALREADY_DISPENSED", "prescription has already been dispensed")
	ErrPrescriptionCancelled = apperror.Precondition("PRESCRIPTION_CANCELLED", "prescription was cancelled")

	// ErrStaleVersion means a concurrent writer won the compare-and-swap.
	ErrStaleVersion = &apperror.Error{
		Kind:    apperror.KindInfrastructure,
		Code:    "STALE_VERSION",
		Message: "diagnosis was modified concurrently",
	}
)
