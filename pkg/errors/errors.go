// Package errors defines the application error model. An AppError pairs a
// stable machine-readable code with the HTTP status it should map to, so
// handlers can pass service errors straight to httputil.Error.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors, matched with errors.Is across layers.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrConflict        = errors.New("resource conflict")
	ErrInternal        = errors.New("internal server error")
	ErrValidation      = errors.New("validation error")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenInvalid    = errors.New("invalid token")
)

// AppError is an error with a response code and HTTP status attached.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails attaches per-field detail messages and returns the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// New builds an AppError from scratch.
func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// Wrap attaches a code and status to an underlying error.
func Wrap(err error, code, message string, statusCode int) *AppError {
	return &AppError{Err: err, Code: code, Message: message, StatusCode: statusCode}
}

func build(sentinel error, code, message string, status int) *AppError {
	return &AppError{Err: sentinel, Code: code, Message: message, StatusCode: status}
}

// NotFound reports that the named resource does not exist.
func NotFound(resource string) *AppError {
	return build(ErrNotFound, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

func Unauthenticated(message string) *AppError {
	return build(ErrUnauthenticated, "UNAUTHENTICATED", message, http.StatusUnauthorized)
}

func PermissionDenied(message string) *AppError {
	return build(ErrForbidden, "PERMISSION_DENIED", message, http.StatusForbidden)
}

func InvalidArgument(message string) *AppError {
	return build(ErrBadRequest, "INVALID_ARGUMENT", message, http.StatusBadRequest)
}

func Conflict(message string) *AppError {
	return build(ErrConflict, "CONFLICT", message, http.StatusConflict)
}

func Internal(message string) *AppError {
	return build(ErrInternal, "INTERNAL_ERROR", message, http.StatusInternalServerError)
}

// Validation reports per-field validation failures.
func Validation(details map[string]string) *AppError {
	return build(ErrValidation, "VALIDATION_ERROR", "validation failed", http.StatusBadRequest).
		WithDetails(details)
}

func TokenExpired() *AppError {
	return build(ErrTokenExpired, "TOKEN_EXPIRED", "token has expired", http.StatusUnauthorized)
}

func TokenInvalid() *AppError {
	return build(ErrTokenInvalid, "TOKEN_INVALID", "invalid token", http.StatusUnauthorized)
}

// Is, As and IsNotFound re-export stdlib matching so callers need only
// one errors import.

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
