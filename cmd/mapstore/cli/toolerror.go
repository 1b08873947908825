// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ErrorCategory classifies command errors so that scripts can tell
// bad input from missing data from a full store without parsing
// message text.
type ErrorCategory string

const (
	// CategoryValidation indicates the caller provided invalid input:
	// missing required arguments, unparseable sizes, bad configuration.
	// The caller should fix the input and retry.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound indicates a referenced blob or file does not
	// exist. Retrying with the same arguments will not help.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryConflict indicates the operation conflicts with existing
	// state: a duplicate hash, a geometry change the stored blobs
	// forbid, or a store root held open by another process.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryCapacity indicates the store has too little free space
	// for the request.
	CategoryCapacity ErrorCategory = "capacity"

	// CategoryInternal indicates an unexpected error: I/O failures,
	// catalog damage, checksum mismatches. The caller should report
	// the error rather than retry.
	CategoryInternal ErrorCategory = "internal"
)

// ExitCode returns the process exit status for the category.
func (c ErrorCategory) ExitCode() int {
	switch c {
	case CategoryValidation:
		return ExitValidation
	case CategoryNotFound:
		return ExitNotFound
	case CategoryConflict:
		return ExitConflict
	case CategoryCapacity:
		return ExitCapacity
	default:
		return ExitFailure
	}
}

// ToolError is a categorized error returned by CLI commands.
//
// ToolError wraps an inner error, preserving the full error chain for
// errors.Is while adding the category. Use the category-specific
// constructors rather than constructing ToolError directly.
type ToolError struct {
	// Category classifies the error for programmatic handling.
	Category ErrorCategory

	// Err is the underlying error with the human-readable message.
	Err error
}

// Error returns the underlying error message. The category is not
// included in the string.
func (e *ToolError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error { return e.Err }

// Validation creates a validation error: the caller provided bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error: a referenced resource does not exist.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflict error: the operation conflicts with existing state.
func Conflict(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

// Capacity creates a capacity error: the store is too full.
func Capacity(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryCapacity, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error: an unexpected failure, bug, or I/O error.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}
