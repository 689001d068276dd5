package apperrors

import (
	"errors"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeNotFound         Code = "NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeScopeMismatch    Code = "SCOPE_MISMATCH"
	CodeConflict         Code = "CONFLICT"
	CodeIntegrity        Code = "INTEGRITY"
	CodeInternal         Code = "INTERNAL"
)

// Status maps a code onto the numeric status carried by acks and HTTP responses.
func (c Code) Status() int {
	switch c {
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeScopeMismatch, CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// FieldError describes one rejected payload field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Error is the domain error type returned by the collaboration core.
type Error struct {
	Code    Code
	Message string
	Fields  []FieldError
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation creates a validation error listing the offending fields.
func Validation(message string, fields ...FieldError) *Error {
	return &Error{Code: CodeValidation, Message: message, Fields: fields}
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func PermissionDenied(message string) *Error {
	return New(CodePermissionDenied, message)
}

func ScopeMismatch(message string) *Error {
	return New(CodeScopeMismatch, message)
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func Integrity(message string) *Error {
	return New(CodeIntegrity, message)
}

// Sentinels usable with errors.Is.
var (
	ErrValidation       = New(CodeValidation, "validation error")
	ErrNotFound         = New(CodeNotFound, "not found")
	ErrPermissionDenied = New(CodePermissionDenied, "permission denied")
	ErrScopeMismatch    = New(CodeScopeMismatch, "scope mismatch")
	ErrConflict         = New(CodeConflict, "conflict")
	ErrIntegrity        = New(CodeIntegrity, "integrity violation")
)

// As extracts the domain error from err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}
