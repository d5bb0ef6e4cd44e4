package engine

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownField         = errors.New("unknown field")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrReadOnlyField        = errors.New("field is computed and cannot be assigned")
	ErrNotReference         = errors.New("field does not hold references")
	ErrNotFound             = errors.New("document not found")
	ErrIntegrity            = errors.New("uniqueness constraint violated")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrDuplicateInstance    = errors.New("a live instance already exists for this key")
	ErrAbstractClass        = errors.New("class cannot be instantiated")
	ErrUnknownClass         = errors.New("unknown class")
)

// FieldError reports a problem with one field of a document.
type FieldError struct {
	Class string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Class, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when a key is absent from the store.
type NotFoundError struct {
	Class string
	Key   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Class, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// IntegrityError is returned when a unique value is owned by another key.
type IntegrityError struct {
	Class string
	Field string
	Value any
	Owner string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s.%s value %v is already used by %q", e.Class, e.Field, e.Value, e.Owner)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// StoreError wraps a failure of the store collaborator. Retrying is left to
// the caller.
type StoreError struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s on %s failed: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("store %s on %s/%s failed: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

func storeErr(op, bucket, key string, err error) error {
	return &StoreError{Op: op, Bucket: bucket, Key: key, Err: err}
}
