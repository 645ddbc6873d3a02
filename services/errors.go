package services

import "errors"

// ValidationError = client-fixable input problem. Surfaced verbatim to the
// submitter; nothing gets persisted when one is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErr(msg string) error { return &ValidationError{Message: msg} }

// ConflictError = the request lost a race: the participation already reached
// a terminal state, or a submission is already in flight for the same
// (user, challenge).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func conflictErr(msg string) error { return &ConflictError{Message: msg} }

// ErrAnalysisUnavailable marks an adjudication call that failed after all
// retries. It never bubbles to the submitter — the participation routes to
// manual review instead.
var ErrAnalysisUnavailable = errors.New("analysis unavailable")

// InvariantViolation = a state that correct operation can never produce
// (e.g. a credit for a non-approved participation). It indicates a bug in
// transition/locking logic; callers must log and alert, never auto-correct.
type InvariantViolation struct {
	Message string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Message }

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}
