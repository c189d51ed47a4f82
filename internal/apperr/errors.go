// Package apperr defines the error taxonomy shared by the trust store and the notary.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrSerialization    = errors.New("serialization error")
	ErrStorage          = errors.New("storage error")
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
	ErrInvalidNotebook  = errors.New("invalid notebook")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// SerializationError reports a document value that cannot be canonicalized.
// Path is a JSON-pointer-like location of the offending value.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("serialize: %v", e.Err)
	}
	return fmt.Sprintf("serialize %s: %v", e.Path, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *SerializationError) Unwrap() []error {
	return []error{ErrSerialization, e.Err}
}

// StorageError reports a failure of the persistent trust store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("trust store: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// Storage wraps err as a StorageError for op. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
