package services

import (
	"errors"
	"fmt"
)

// Error classes. Handlers map these to HTTP status codes with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrPrecondition = errors.New("precondition failed")
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Resource string
	ID       any
	Message  string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Resource + " not found"
}
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(resource string, id any) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// PreconditionError reports a domain rule that blocks the operation, such
// as an empty cart or a duplicate review.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }
func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

func preconditionf(format string, args ...any) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError names the product that cannot cover the request.
type InsufficientStockError struct {
	ProductID int64
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s. Available: %d", e.Title, e.Available)
}
func (e *InsufficientStockError) Unwrap() error { return ErrPrecondition }

// AuthError carries a client-facing message for 401/403 responses.
type AuthError struct {
	Message string
	Kind    error
}

func (e *AuthError) Error() string { return e.Message }
func (e *AuthError) Unwrap() error { return e.Kind }

func unauthorized(msg string) error { return &AuthError{Message: msg, Kind: ErrUnauthorized} }
func forbidden(msg string) error    { return &AuthError{Message: msg, Kind: ErrForbidden} }

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Unwrap() error { return ErrConflict }
