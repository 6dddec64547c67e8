package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrReference is returned when a record names a session that does not exist.
	ErrReference = errors.New("dangling session reference")

	// ErrConflict is returned for invalid state transitions, such as updating
	// a session that already reached a terminal status.
	ErrConflict = errors.New("conflict")

	// ErrInvalid is returned when a record fails validation before any write,
	// such as a missing role or a success rate outside [0, 1].
	ErrInvalid = errors.New("invalid record")

	// ErrStorage matches every *StorageError via errors.Is.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps a failure reported by the underlying database.
type StorageError struct {
	Op  string // e.g. "insert message", "commit"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
