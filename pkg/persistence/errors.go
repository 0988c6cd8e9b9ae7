// Package persistence provides standardized error types for persistence operations.
package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrTriggerNotFound indicates a trigger was not found by the given identifier.
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrDecisionNotFound indicates a decision was not found by the given identifier.
	ErrDecisionNotFound = errors.New("decision not found")

	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrControlStateNotFound indicates no control state exists for the scope.
	ErrControlStateNotFound = errors.New("control state not found")

	// ErrVariantNotFound indicates a bandit arm was not found.
	ErrVariantNotFound = errors.New("variant not found")

	// ErrDuplicateEnrollment indicates an active enrollment already exists
	// for the (workflow, recipient) pair of a non-re-entrant workflow.
	// Rejected at the write boundary, never partially applied.
	ErrDuplicateEnrollment = errors.New("duplicate active enrollment")

	// ErrEnrollmentClaimConflict indicates another worker claimed the
	// enrollment first (version mismatch).
	ErrEnrollmentClaimConflict = errors.New("enrollment claim conflict")

	// ErrOutcomeAlreadyRecorded indicates a decision outcome was reported
	// more than once; decisions are immutable after the first report.
	ErrOutcomeAlreadyRecorded = errors.New("outcome already recorded")

	// ErrStepExecutionNotFound indicates no step execution exists for the key.
	ErrStepExecutionNotFound = errors.New("step execution not found")
)

// IsNotFound checks whether an error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTriggerNotFound) ||
		errors.Is(err, ErrDecisionNotFound) ||
		errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrControlStateNotFound) ||
		errors.Is(err, ErrVariantNotFound) ||
		errors.Is(err, ErrStepExecutionNotFound)
}

// IsDuplicateEnrollment checks if an error indicates a duplicate active enrollment.
func IsDuplicateEnrollment(err error) bool {
	return errors.Is(err, ErrDuplicateEnrollment)
}

// IsClaimConflict checks if an error indicates a lost optimistic claim.
func IsClaimConflict(err error) bool {
	return errors.Is(err, ErrEnrollmentClaimConflict)
}
