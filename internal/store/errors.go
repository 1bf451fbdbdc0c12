package store

import (
	"errors"
	"fmt"
)

// Error is a failure of the storage backend: the database was unreachable,
// a statement failed or a transaction could not commit.
//
// Store methods wrap every driver error in an Error so callers can tell
// storage faults apart from invalid input.
type Error struct {
	// Op names the store operation that failed.
	Op  string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

// Unwrap returns the driver error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsStorageError returns true if the error is a storage error.
// Uses errors.As to handle wrapped errors.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
