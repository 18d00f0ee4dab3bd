package engine

import (
	"errors"
	"fmt"

	"brandline/internal/domain"
	"brandline/internal/engine/assign"
	"brandline/internal/engine/guard"
	"brandline/internal/engine/transition"
	"brandline/internal/repo"
)

// ErrForceDisabled is returned by ForceSetStatus unless admin.allow_force_status is set.
var ErrForceDisabled = errors.New("force status is disabled")

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func missing(field string) error {
	return ValidationError{Field: field, Reason: "required"}
}

// ConflictError means the job changed between read and write. Callers re-read and retry.
type ConflictError struct {
	JobID    int64
	Expected domain.Status
	Actual   domain.Status
}

func (e ConflictError) Error() string {
	if e.Actual != "" && e.Actual != e.Expected {
		return fmt.Sprintf("job %d is %s, expected %s", e.JobID, e.Actual, e.Expected)
	}
	return fmt.Sprintf("job %d was modified concurrently", e.JobID)
}

func (e ConflictError) Unwrap() error {
	return repo.ErrConflict
}

// StoreError wraps a persistence or file storage failure.
type StoreError struct {
	Op  string
	Err error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return StoreError{Op: op, Err: err}
}

// Outcome classifies an error for metrics and logs.
func Outcome(err error) string {
	var (
		validation ValidationError
		forbidden  guard.ForbiddenError
		invalid    transition.InvalidTransitionError
		conflict   ConflictError
		store      StoreError
	)
	switch {
	case err == nil:
		return "committed"
	case errors.As(err, &validation):
		return "validation_failed"
	case errors.Is(err, ErrForceDisabled):
		return "force_disabled"
	case errors.As(err, &forbidden):
		return "forbidden"
	case errors.As(err, &invalid):
		return "invalid_transition"
	case errors.Is(err, repo.ErrNotFound):
		return "not_found"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, assign.ErrNoCandidate):
		return "no_assignee"
	case errors.As(err, &store):
		return "store_unavailable"
	}
	return "error"
}
