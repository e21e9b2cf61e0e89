package task

import (
	"context"
	"errors"

	"github.com/phrazzld/taskcore/internal/domain"
)

var (
	// ErrCancelled is reported by an Executor that stopped because cancellation was requested.
	ErrCancelled = errors.New("task execution cancelled")

	// ErrOutOfMemory is reported when execution ran out of memory. It is never retried.
	ErrOutOfMemory = errors.New("task execution ran out of memory")
)

// Result is what an Executor reports for one execution attempt.
type Result struct {
	Success    bool
	Text       string
	ActionsLog string
}

// Execution is the input to an Executor.
type Execution struct {
	Task *domain.Task

	cancelRequested func() bool
}

// CancelRequested reports whether cancellation has been requested for the task.
// Executors poll it between observable progress steps and return ErrCancelled.
func (e Execution) CancelRequested() bool {
	return e.cancelRequested != nil && e.cancelRequested()
}

// Executor performs the work a task describes. The context is cancelled when
// the task's cancellation is observed or its lock is lost.
type Executor interface {
	Execute(ctx context.Context, exec Execution) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, exec Execution) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, exec Execution) (Result, error) {
	return f(ctx, exec)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// NonRetryable reports whether err belongs to a failure class that is never retried.
func NonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrOutOfMemory) || errors.As(err, &p)
}
