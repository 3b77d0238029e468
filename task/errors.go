package task

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrPreconditionFailed    = errors.New("precondition failed")
	ErrMissingFile           = errors.New("input file missing")
	ErrExternalProcess       = errors.New("external process failed")
	ErrTimeout               = errors.New("external process timed out")
	ErrLaunch                = errors.New("external process could not be launched")
	ErrCredentialUnavailable = errors.New("credential unavailable")

	// ErrJobFinalized is returned by the registry when an update targets a terminal job.
	ErrJobFinalized = errors.New("job already finalized")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
