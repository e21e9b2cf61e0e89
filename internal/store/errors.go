package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., two recurring jobs with the same name for a tenant).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrNoEligibleTask is returned by ClaimNext when no task can be claimed.
	ErrNoEligibleTask = errors.New("no eligible task")

	// ErrInvalidTransition is returned when the task's current status does
	// not allow the requested change, e.g. any change to a terminal task.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotOwner is returned when a worker mutates a task it does not hold the lock on.
	ErrNotOwner = errors.New("task is not locked by this worker")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrJobNotFound indicates that the requested recurring job does not exist in the store.
	ErrJobNotFound = fmt.Errorf("%w: recurring job", ErrNotFound)

	// ErrJobNameExists indicates that the tenant already has a recurring job with this name.
	ErrJobNameExists = fmt.Errorf("%w: recurring job name", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
