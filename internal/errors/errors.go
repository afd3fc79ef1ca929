// Package errors provides structured error handling for Lodestone.
//
// Every failure that crosses a service boundary carries one of the stable
// codes below. The HTTP layer maps codes to statuses; everything else only
// inspects codes, never messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Stable error codes exposed on the wire.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeIndexNotFound    = "INDEX_NOT_FOUND"
	CodeIndexExists      = "INDEX_ALREADY_EXISTS"
	CodeDocumentNotFound = "DOCUMENT_NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

// ServiceError is the structured error type for Lodestone.
type ServiceError struct {
	// Code is one of the stable error codes above.
	Code string

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	// Details go to logs, never to the wire.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Is matches against another ServiceError by code, enabling errors.Is.
func (e *ServiceError) Is(target error) bool {
	if t, ok := target.(*ServiceError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ServiceError) WithDetail(key, value string) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the HTTP status the code maps to.
func (e *ServiceError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeIndexNotFound, CodeDocumentNotFound:
		return http.StatusNotFound
	case CodeIndexExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new ServiceError with the given code and message.
func New(code, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Cause: cause}
}

// Wrap creates a ServiceError from an existing error, keeping its message.
func Wrap(code string, err error) *ServiceError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Validation creates a validation error (bad input, unknown filter operator,
// unsupported file type, oversize upload).
func Validation(message string, cause error) *ServiceError {
	return New(CodeValidation, message, cause)
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *ServiceError {
	return New(CodeValidation, fmt.Sprintf(format, args...), nil)
}

// IndexNotFound creates the canonical missing-index error.
func IndexNotFound(name string) *ServiceError {
	return New(CodeIndexNotFound, fmt.Sprintf("Index '%s' not found", name), nil)
}

// IndexExists creates the canonical create-conflict error.
func IndexExists(name string) *ServiceError {
	return New(CodeIndexExists, fmt.Sprintf("Index '%s' already exists", name), nil)
}

// DocumentNotFound creates the canonical missing-document error.
func DocumentNotFound(id string) *ServiceError {
	return New(CodeDocumentNotFound, fmt.Sprintf("Document '%s' not found", id), nil)
}

// Internal creates an internal error (disk I/O, embedder/ANN failures
// surfaced upward).
func Internal(message string, cause error) *ServiceError {
	return New(CodeInternal, message, cause)
}

// GetCode extracts the stable code from anywhere in an error chain.
// Returns CodeInternal for non-service errors.
func GetCode(err error) string {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// AsService extracts a ServiceError from an error chain, wrapping unknown
// errors as internal with a generic message (detail stays in the chain).
func AsService(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return New(CodeInternal, "An internal error occurred", err)
}

// IsNotFound reports whether the error carries either not-found code.
func IsNotFound(err error) bool {
	code := GetCode(err)
	return code == CodeIndexNotFound || code == CodeDocumentNotFound
}

// IsValidation reports whether the error is a validation error.
func IsValidation(err error) bool {
	return GetCode(err) == CodeValidation
}
