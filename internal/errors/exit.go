// Package errwrap carries process exit codes alongside command errors.
//
// Commands return these from RunE; the root command unwraps them once and
// exits with the attached code.
package errwrap

import (
	"errors"
	"fmt"
)

// ExitError is an error that selects the process exit code.
type ExitError struct {
	// Code is the exit code (gofulmen foundry codes, or 1 for unmet checks).
	Code int

	// Message is the short operator-facing summary.
	Message string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// New creates an ExitError.
func New(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// CodeOf returns the exit code attached to err, or fallback when err does
// not carry one. A nil err yields 0.
func CodeOf(err error, fallback int) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return fallback
}
