package errors

import (
	"fmt"
)

// CoreError is the structured error type for the retrieval core.
// It provides context for error handling, logging, and degradation decisions.
type CoreError struct {
	// Code is the unique error code (e.g., "ERR_501_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Input, Store, Capability, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CoreError.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Fatal reports whether the error must fail the whole query.
// Everything below fatal severity degrades locally instead.
func (e *CoreError) Fatal() bool {
	return e.Severity == SeverityFatal
}

// New creates a new CoreError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CoreError from an existing error.
// The error's message becomes the CoreError message.
func Wrap(code string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Input creates an input validation error.
func Input(message string) *CoreError {
	return New(ErrCodeInvalidFilter, message, nil)
}

// StoreUnavailable creates a fatal storage error.
func StoreUnavailable(message string, cause error) *CoreError {
	return New(ErrCodeStoreUnavailable, message, cause)
}

// CapabilityUnavailable creates a capability degradation error.
func CapabilityUnavailable(code, capability string, cause error) *CoreError {
	return New(code, capability+" unavailable", cause)
}

// DimensionMismatch creates a consistency error for vector size disagreement.
func DimensionMismatch(expected, got int) *CoreError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", expected, got), nil)
}

// PathTimeout creates a per-path timeout error.
func PathTimeout(path string) *CoreError {
	return New(ErrCodePathTimeout, path+" path exceeded its time budget", nil)
}

// IsFatal reports whether err (or anything it wraps) is a fatal CoreError.
func IsFatal(err error) bool {
	ce := AsCoreError(err)
	return ce != nil && ce.Fatal()
}

// AsCoreError extracts a CoreError from an error chain, or returns nil.
func AsCoreError(err error) *CoreError {
	for err != nil {
		if ce, ok := err.(*CoreError); ok {
			return ce
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}
