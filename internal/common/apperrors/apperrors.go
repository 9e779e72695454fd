// Package apperrors provides the error taxonomy used across the orchestrator.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants. These map onto the error taxonomy of the
// orchestration core: ValidationError, ResourceExhausted, NotFound,
// Conflict, TransientIO, Cancelled, Fatal.
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidationError    = "VALIDATION_ERROR"
	ErrCodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTransientIO        = "TRANSIENT_IO"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a NotFound error for the given resource kind and id.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a generic bad-request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ValidationError creates a field-scoped validation error.
func ValidationError(field, message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// ResourceExhausted creates an error for capacity limits (e.g. QueueFull).
func ResourceExhausted(message string) *AppError {
	return &AppError{
		Code:       ErrCodeResourceExhausted,
		Message:    message,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// Conflict creates an error for pre-condition failures (merge conflicts,
// worktree path in use) that should be returned as structured results,
// never thrown.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// TransientIO wraps an error from a flaky external dependency (git,
// turn-executor) that the caller is expected to retry.
func TransientIO(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeTransientIO,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Cancelled marks a cooperative cancellation. Never logged as an error.
func Cancelled(message string) *AppError {
	return &AppError{
		Code:       ErrCodeCancelled,
		Message:    message,
		HTTPStatus: http.StatusRequestTimeout,
	}
}

// InternalError wraps an unexpected error with context.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ServiceUnavailable creates an error for a dependency that is down.
func ServiceUnavailable(service string) *AppError {
	return &AppError{
		Code:       ErrCodeServiceUnavailable,
		Message:    fmt.Sprintf("service '%s' is currently unavailable", service),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Wrap attaches context to err, preserving its AppError code/status if it has one.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound reports whether err is (or wraps) a NotFound AppError.
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeNotFound
}

// IsConflict reports whether err is (or wraps) a Conflict AppError.
func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeConflict
}

// IsResourceExhausted reports whether err is (or wraps) a ResourceExhausted AppError.
func IsResourceExhausted(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrCodeResourceExhausted
}

// GetHTTPStatus returns the HTTP status for err, defaulting to 500.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
