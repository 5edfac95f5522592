package store

import (
	"errors"
	"fmt"

	"tracklight/internal/models"
)

// Store errors.
var (
	ErrCorruptStore       = errors.New("corrupt store")
	ErrNotFound           = errors.New("record not found")
	ErrEmptyIdentity      = errors.New("record identity is empty")
	ErrIncompleteAnalysis = models.ErrIncompleteAnalysis
	ErrLocked             = errors.New("store is locked by another process")
	ErrClosed             = errors.New("store is closed")
	ErrWrite              = errors.New("store write failed")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidPriority    = errors.New("invalid priority")
)

// CorruptStoreError reports a store file that exists but cannot be decoded.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("corrupt store %s: %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error {
	return e.Err
}

// Is matches ErrCorruptStore.
func (e *CorruptStoreError) Is(target error) bool {
	return target == ErrCorruptStore
}

// NotFoundError reports an operation on an identity the store does not hold.
type NotFoundError struct {
	Identity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %q not found", e.Identity)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
