package properties

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a value fails a type check or validator.
	ErrValidation = errors.New("validation failed")
	// ErrTypeMismatch is returned when a value cannot be coerced into the
	// canonical in-memory type of a property.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrDefinition is returned for a property that was declared with bad options.
	ErrDefinition = errors.New("invalid property definition")
)

// ValidationError names the field and the rejected value.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("validation failed for field %q with value %v: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("validation failed for field %q with value %v", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// TypeMismatchError is returned by Standardize and the wire conversions.
type TypeMismatchError struct {
	Type  string
	Value any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cannot use %v (%T) as %s", e.Value, e.Value, e.Type)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

func mismatch(typ string, v any) error {
	return &TypeMismatchError{Type: typ, Value: v}
}
