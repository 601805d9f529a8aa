// Package errors defines structured error types for the API.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/maruel/novelist/internal/backup"
	"github.com/maruel/novelist/internal/store"
	"github.com/maruel/novelist/internal/userdb"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrInvalidArgument is returned when input data fails validation
	ErrInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrMissingField is returned when a required field is missing
	ErrMissingField ErrorCode = "MISSING_FIELD"
	// ErrNotFound is returned when a resource is not found
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrNotConfigured is returned when the remote store is not set up
	ErrNotConfigured ErrorCode = "NOT_CONFIGURED"
	// ErrConflict is returned when an operation would break the novel layout
	ErrConflict ErrorCode = "CONFLICT"
	// ErrUnauthorized is returned when authentication is missing or invalid
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrTooManyRequests is returned when a client is rate limited
	ErrTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	// ErrRestorePartial is returned when a restore left the data half replaced
	ErrRestorePartial ErrorCode = "RESTORE_PARTIAL"
	// ErrInternal is returned when an unexpected server error occurs
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorWithStatus is an error that includes an HTTP status code and error code.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	// Message is the text safe to return to the client.
	Message() string
	Details() map[string]any
}

// APIError is a concrete error type with status code, code, and optional details.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError creates a new APIError with the given status code and message.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{
		statusCode: statusCode,
		code:       code,
		message:    message,
	}
}

// WithDetail adds a single detail to the error.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error. The wrapped error is logged but never sent
// to the client.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.statusCode
}

// Code returns the error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Message returns the client facing message.
func (e *APIError) Message() string {
	return e.message
}

// Details returns additional error details.
func (e *APIError) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *APIError) Unwrap() error {
	return e.wrappedErr
}

// NotFound creates a 404 Not Found error.
func NotFound(resource string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrNotFound, fmt.Sprintf("%s not found", resource))
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrInvalidArgument, message)
}

// MissingField creates a 400 Bad Request error for a missing field.
func MissingField(fieldName string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrMissingField, fmt.Sprintf("Missing required field: %s", fieldName))
}

// Unauthorized returns a 401 Unauthorized error.
func Unauthorized() *APIError {
	return NewAPIError(http.StatusUnauthorized, ErrUnauthorized, "Unauthorized")
}

// Internal returns a 500 Internal Server Error.
func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrInternal, message)
}

// InternalWithError creates a 500 error wrapping an underlying error.
func InternalWithError(message string, err error) *APIError {
	return Internal(message).Wrap(err)
}

// FromStore converts an error from the store, backup or user database layers
// into an APIError.
//
// Only validation and conflict errors carry their message to the client; the
// others may contain filesystem paths or remote URLs and get a generic text.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	var ews ErrorWithStatus
	if errors.As(err, &ews) {
		return err
	}
	var partial *backup.PartialRestoreError
	switch {
	case errors.As(err, &partial):
		return NewAPIError(http.StatusInternalServerError, ErrRestorePartial, "Novels were restored but the user database was not").Wrap(err)
	case errors.Is(err, store.ErrInvalidArgument):
		return NewAPIError(http.StatusBadRequest, ErrInvalidArgument, err.Error()).Wrap(err)
	case errors.Is(err, store.ErrConflict):
		return NewAPIError(http.StatusConflict, ErrConflict, err.Error()).Wrap(err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, userdb.ErrNotFound):
		return NotFound("Resource").Wrap(err)
	case errors.Is(err, store.ErrNotConfigured):
		return NewAPIError(http.StatusBadRequest, ErrNotConfigured, "Remote storage is not configured").Wrap(err)
	case errors.Is(err, userdb.ErrInvalidCredentials):
		return NewAPIError(http.StatusUnauthorized, ErrUnauthorized, "Invalid credentials").Wrap(err)
	default:
		return InternalWithError("Internal error", err)
	}
}
