package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error classes shared across the service. Every error returned from a
// component is marked with exactly one of these so handlers can map it to a
// status code without inspecting messages.
var (
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrUnauthenticated  = new(ErrCodeUnauthenticated, "authentication required")
	ErrPermissionDenied = new(ErrCodePermissionDenied, "permission denied")
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrConflict         = new(ErrCodeConflict, "conflict")
	ErrDependency       = new(ErrCodeDependency, "dependency unavailable")
	ErrInvariant        = new(ErrCodeInvariant, "invariant violation")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// checked in order; the first matching class wins
	statusCodes = []struct {
		class  error
		status int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrPermissionDenied, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrDependency, http.StatusServiceUnavailable},
		{ErrInvariant, http.StatusInternalServerError},
		{ErrSystem, http.StatusInternalServerError},
	}
)

const (
	ErrCodeValidation       = "validation_error"
	ErrCodeUnauthenticated  = "unauthenticated"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeDependency       = "dependency_error"
	ErrCodeInvariant        = "invariant_violation"
	ErrCodeSystemError      = "system_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

// Sentinel declares a domain-specific sentinel under one of the classes above.
// Errors marked with it through the builder are also marked with the class.
func Sentinel(code, message string) *InternalError {
	return new(code, message)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsRetryable reports whether the caller may retry the same request unchanged.
// Only dependency failures qualify; validation and auth failures need new input.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDependency)
}

func IsInvariant(err error) bool {
	return errors.Is(err, ErrInvariant)
}

// HTTPStatusFromErr maps an error to its class status code.
func HTTPStatusFromErr(err error) int {
	for _, sc := range statusCodes {
		if errors.Is(err, sc.class) {
			return sc.status
		}
	}
	return http.StatusInternalServerError
}

// Hint returns the outermost user-facing hint attached to err, or fallback.
func Hint(err error, fallback string) string {
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		return hints[len(hints)-1]
	}
	return fallback
}
