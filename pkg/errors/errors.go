// Package errors provides structured error types for the CHAI service.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across pipelines, the deduplicator, and the CLI
//   - Machine-readable error codes for programmatic handling
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Codes map to the failure taxonomy of the ingestion pipeline. Row-level
// problems (MALFORMED_URL, MISSING_DEPENDENCY, PARSE_ERROR) are logged and
// skipped; stage-level problems (NETWORK_ERROR, STORE_CONSTRAINT) fail the
// run.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeMalformedURL, "cannot canonicalize %q", raw)
//	if errors.Is(err, errors.ErrCodeMalformedURL) {
//	    // drop the URL, keep the run alive
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeNetwork, origErr, "fetching %s", source)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for the pipeline failure taxonomy.
const (
	// Row-level: logged, record or edge dropped, run continues.
	ErrCodeMalformedURL      Code = "MALFORMED_URL"
	ErrCodeMissingDependency Code = "MISSING_DEPENDENCY"
	ErrCodeParse             Code = "PARSE_ERROR"

	// Stage-level: the current run fails, the next scheduled cycle retries.
	ErrCodeNetwork         Code = "NETWORK_ERROR"
	ErrCodeStoreConstraint Code = "STORE_CONSTRAINT"
	ErrCodeCancelled       Code = "CANCELLED"

	// Configuration and lookup failures.
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeInternal     Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain to the outermost *Error and compares its code;
// the codes of *Errors wrapped inside that one are not consulted.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Fatal reports whether err should abort the current pipeline run.
// Row-level codes are survivable; everything else is fatal.
func Fatal(err error) bool {
	switch GetCode(err) {
	case ErrCodeMalformedURL, ErrCodeMissingDependency, ErrCodeParse:
		return false
	}
	return true
}
