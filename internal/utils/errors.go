package utils

import (
	"errors"
	"fmt"
)

// ErrorClass splits faults into the two tiers the recovery loop cares about:
// operational errors are expected and retryable, non-operational errors are
// programming or infrastructure faults that are escalated, never retried forever.
type ErrorClass string

const (
	ClassOperational    ErrorClass = "operational"
	ClassNonOperational ErrorClass = "non_operational"
)

// AppError wraps an operation, human-facing message, class, and underlying error.
type AppError struct {
	Op    string
	Msg   string
	Class ErrorClass
	Err   error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// OperationalError constructs a recoverable AppError.
func OperationalError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Class: ClassOperational, Err: err}
}

// NonOperationalError constructs an AppError that must be escalated.
func NonOperationalError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Class: ClassNonOperational, Err: err}
}

// IsOperational reports whether err is (or wraps) an operational AppError.
// Unclassified errors are treated as operational so transient faults from
// external dependencies stay retryable.
func IsOperational(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Class != ClassNonOperational
	}
	return true
}
