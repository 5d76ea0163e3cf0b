// Package errdefs provides the structured error type (CoordError) used for
// failure classification and recovery decisions across the coordinator.
package errdefs

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a coordinator failure for recovery handling.
type ErrorKind string

const (
	// External system failures
	KindPoolUnavailable ErrorKind = "pool_unavailable"
	KindStorage         ErrorKind = "storage"

	// Search process failures
	KindProcessCrash   ErrorKind = "process_crash"
	KindProcessTimeout ErrorKind = "process_timeout"

	// Local state failures
	KindCorruptState  ErrorKind = "corrupt_state"
	KindConfigInvalid ErrorKind = "config_invalid"

	// Everything else
	KindInternal ErrorKind = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the affected puzzle (or startup)
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// CoordError is a structured error with kind, retryability, and context
type CoordError struct {
	Kind      ErrorKind     `json:"kind"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for CoordError
type ContextFields map[string]any

// Error implements the error interface
func (e *CoordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *CoordError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *CoordError) WithContext(key string, value any) *CoordError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new CoordError
func New(kind ErrorKind, severity ErrorSeverity, message string) *CoordError {
	return &CoordError{
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new CoordError that wraps an existing error
func Wrap(err error, kind ErrorKind, severity ErrorSeverity, message string) *CoordError {
	return &CoordError{
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// IsKind checks if an error (anywhere in its chain) carries a specific kind.
// A process timeout counts as a process crash: the scheduler handles both the
// same way, so callers testing for KindProcessCrash also match timeouts.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CoordError
	if !errors.As(err, &ce) {
		return false
	}
	if ce.Kind == kind {
		return true
	}
	return kind == KindProcessCrash && ce.Kind == KindProcessTimeout
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var ce *CoordError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetKind extracts the kind from an error, or returns KindInternal if no
// CoordError is present in the chain
func GetKind(err error) ErrorKind {
	var ce *CoordError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}
