// Package apperrors defines the error taxonomy of the permission engine.
// Handlers map these to HTTP status codes; services wrap underlying store
// errors with fmt.Errorf and %w so the taxonomy survives the wrapping.
package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError marks caller-correctable input problems and carries the
// offending field so the caller can fix it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError marks a node, permission or delegation that does not resolve.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// AuthorizationError is a generic denial. It deliberately carries no detail
// about other users' grants so denials cannot be used as a permission oracle.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "access denied"
	}
	return e.Message
}

func NewAuthorization(message string) *AuthorizationError {
	return &AuthorizationError{Message: message}
}

// ConcurrencyError marks a lost update on a versioned permission row. The
// caller re-reads and retries; the engine never silently overwrites.
type ConcurrencyError struct {
	Resource string
	ID       string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Resource, e.ID)
}

func NewConcurrency(resource, id string) *ConcurrencyError {
	return &ConcurrencyError{Resource: resource, ID: id}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}

func IsConcurrency(err error) bool {
	var target *ConcurrencyError
	return errors.As(err, &target)
}
