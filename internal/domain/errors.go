package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrEmptyTenantID is returned when a task or job has no owning tenant.
	ErrEmptyTenantID = errors.New("tenant ID cannot be empty")

	// ErrEmptyPayload is returned when neither a prompt nor a command is given.
	ErrEmptyPayload = errors.New("prompt or command is required")

	// ErrInvalidQueueClass is returned for a queue class other than foreground/background.
	ErrInvalidQueueClass = errors.New("invalid queue class")

	// ErrInvalidSourceKind is returned for an unknown task source.
	ErrInvalidSourceKind = errors.New("invalid source kind")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidMaxAttempts is returned when max attempts is outside 1..MaxAllowedAttempts.
	ErrInvalidMaxAttempts = errors.New("invalid max attempts")

	// ErrEmptyJobName is returned when a recurring job has no name.
	ErrEmptyJobName = errors.New("recurring job name cannot be empty")

	// ErrEmptyCronExpression is returned when a recurring job has no schedule.
	ErrEmptyCronExpression = errors.New("cron expression cannot be empty")

	// ErrInvalidJobKind is returned for an unknown recurring job kind.
	ErrInvalidJobKind = errors.New("invalid recurring job kind")
)
