package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when inserting a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")
)

// ValidationError wraps field-specific validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
