// Package errs defines the typed error taxonomy shared by the order book
// and settlement services.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError indicates a malformed or out-of-bounds order submission.
// It is surfaced synchronously to the caller and never retried.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("validation failed: %s", e.Detail)
}

// NewValidationError creates a validation error for a specific field
func NewValidationError(field, detail string) *ValidationError {
	return &ValidationError{Field: field, Detail: detail}
}

// NotFoundError indicates the referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// NewNotFoundError creates a not-found error for an entity/id pair
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// AuthorizationError indicates the caller does not own the referenced entity.
type AuthorizationError struct {
	Detail string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized: %s", e.Detail)
}

// NewAuthorizationError creates an authorization error
func NewAuthorizationError(detail string) *AuthorizationError {
	return &AuthorizationError{Detail: detail}
}

// ConflictError indicates the entity is in a state that forbids the operation,
// e.g. cancelling an order that is already filled or cancelled.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Detail)
}

// NewConflictError creates a conflict error
func NewConflictError(detail string) *ConflictError {
	return &ConflictError{Detail: detail}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuthorization reports whether err is an AuthorizationError
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
