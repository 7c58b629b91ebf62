package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidSource       = errors.New("invalid referral source")
	ErrProviderConsistency = errors.New("provider consistency violation")
	ErrConfiguration       = errors.New("configuration error")
	ErrAuthentication      = errors.New("authentication error")
	ErrForbidden           = errors.New("forbidden")
	ErrBadRequest          = errors.New("bad request")
	ErrUniqueness          = errors.New("uniqueness violation")
	ErrBatch               = errors.New("batch completed with errors")
	ErrInternal            = errors.New("internal error")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// InvalidState creates an invalid-state error. Used when a referral's status
// is not in the accepted set for a transition, or when a stored record
// violates an invariant (e.g. more than one in-progress referral).
func InvalidState(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidState,
		Message:    message,
		Code:       "INVALID_STATE",
		HTTPStatus: http.StatusConflict,
	}
}

// InvalidSource creates an error for operations not permitted for a
// referral source
func InvalidSource(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidSource,
		Message:    message,
		Code:       "INVALID_SOURCE",
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// ProviderConsistency creates an error for provider-linkage violations:
// a provider id present where the target state forbids one, or absent
// where it is required.
func ProviderConsistency(message string) *AppError {
	return &AppError{
		Err:        ErrProviderConsistency,
		Message:    message,
		Code:       "PROVIDER_CONSISTENCY",
		HTTPStatus: http.StatusConflict,
	}
}

// Configuration creates an error for missing or invalid configuration.
// Thresholds and re-entry windows are never defaulted; absence is fatal.
func Configuration(message string) *AppError {
	return &AppError{
		Err:        ErrConfiguration,
		Message:    message,
		Code:       "CONFIGURATION_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Authentication creates an authentication error. External 401 responses
// are always reclassified through this constructor and abort the batch.
func Authentication(message string) *AppError {
	return &AppError{
		Err:        ErrAuthentication,
		Message:    message,
		Code:       "AUTHENTICATION_ERROR",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden creates an authorization error
func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Uniqueness creates a hard uniqueness-violation error
func Uniqueness(message string) *AppError {
	return &AppError{
		Err:        ErrUniqueness,
		Message:    message,
		Code:       "UNIQUENESS_VIOLATION",
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// BatchError wraps the latest of possibly many per-record failures
// encountered during a batch workflow. Each failure is logged where it
// occurs; only the most recent one is surfaced to the caller.
type BatchError struct {
	Latest error
	Count  int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch ran with errors, latest error: %v", e.Latest)
}

func (e *BatchError) Unwrap() error {
	return ErrBatch
}

// NewBatchError creates an aggregate batch error from the latest failure
func NewBatchError(latest error, count int) *BatchError {
	return &BatchError{Latest: latest, Count: count}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
