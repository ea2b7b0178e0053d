// Package errors provides the error kinds shared by every analyzer.
//
// This file provides:
// - Exit codes used by the command line front end
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToCode mapping
// - Error wrapping utilities
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ============================================================================
// Exit codes - returned by the storscope binary
// ============================================================================

const (
	CodeOK              int = 0
	CodeInternal        int = 1
	CodeInvalidRequest  int = 2
	CodeNotFound        int = 3
	CodeUnsupported     int = 4
	CodeCancelled       int = 5
	CodeResidencyFailed int = 6
	CodeCorrupt         int = 7
)

// CodeName returns a human-readable name for an exit code.
func CodeName(code int) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeInternal:
		return "Internal"
	case CodeInvalidRequest:
		return "InvalidConfiguration"
	case CodeNotFound:
		return "NotFound"
	case CodeUnsupported:
		return "UnsupportedFormat"
	case CodeCancelled:
		return "Cancelled"
	case CodeResidencyFailed:
		return "ResidencyQueryFailed"
	case CodeCorrupt:
		return "Corrupt"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Not found errors
	ErrNotFound          = errors.New("not found")
	ErrNamespaceNotFound = errors.New("namespace not found")
	ErrExtentNotFound    = errors.New("extent not found")
	ErrIndexNotFound     = errors.New("index not found")

	// Validation errors (InvalidConfiguration)
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrMissingField         = errors.New("missing required field")
	ErrInvalidChunking      = errors.New("invalid chunking request")
	ErrInvalidExpansionPath = errors.New("invalid expansion path")

	// Format errors
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCorrupt           = errors.New("corrupt storage structure")

	// Mid-scan errors; results returned alongside these are partial
	ErrCancelled            = errors.New("analysis cancelled")
	ErrResidencyQueryFailed = errors.New("page residency query failed")

	// Internal errors
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNamespaceNotFound) ||
		errors.Is(err, ErrExtentNotFound) ||
		errors.Is(err, ErrIndexNotFound)
}

// IsValidation returns true if err is an InvalidConfiguration error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidChunking) ||
		errors.Is(err, ErrInvalidExpansionPath)
}

// IsPartial returns true if err is one of the kinds that can interrupt a
// scan after aggregates were already built. Results returned together with
// such an error are partial.
func IsPartial(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrResidencyQueryFailed)
}

// ============================================================================
// Error to exit code mapping
// ============================================================================

// ErrorToCode maps an error to its process exit code.
func ErrorToCode(err error) int {
	if err == nil {
		return CodeOK
	}

	switch {
	case IsValidation(err):
		return CodeInvalidRequest
	case IsNotFound(err):
		return CodeNotFound
	case Is(err, ErrUnsupportedFormat):
		return CodeUnsupported
	case Is(err, ErrCancelled):
		return CodeCancelled
	case Is(err, ErrResidencyQueryFailed):
		return CodeResidencyFailed
	case Is(err, ErrCorrupt):
		return CodeCorrupt
	default:
		return CodeInternal
	}
}

// ============================================================================
// Cancellation
// ============================================================================

// CheckInterrupt is the cooperative cancellation hook polled by every
// traversal loop. It returns an ErrCancelled-wrapping error once ctx is done.
func CheckInterrupt(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewUnsupported creates an unsupported-format error with context.
func NewUnsupported(what string, value interface{}) error {
	return fmt.Errorf("%s %v is not supported: %w", what, value, ErrUnsupportedFormat)
}

// NewCorrupt creates a corrupt-structure error with context.
func NewCorrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrCorrupt)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
