package store

import (
	"context"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
)

// StatusUpdate records a terminal outcome for a task.
type StatusUpdate struct {
	// Status must be completed, failed or cancelled.
	Status     domain.TaskStatus
	Result     string
	ActionsLog string
	Error      string
	// Owner, when non-empty, requires the task to be locked by this worker.
	Owner string
}

// ClaimParams scopes a ClaimNext call. Empty TenantID or QueueClass means any.
type ClaimParams struct {
	WorkerID   string
	TenantID   string
	QueueClass domain.QueueClass
	Now        time.Time
}

// BacklogEntry counts eligible pending tasks for one tenant and queue class.
type BacklogEntry struct {
	TenantID   string
	QueueClass domain.QueueClass
	Pending    int
}

// TaskStore defines the interface for task persistence.
// Every method is a single atomic operation with respect to other callers.
type TaskStore interface {
	// Create validates the spec, applies defaults and stores a new Pending task.
	// Returns an error wrapping ErrInvalidEntity when the spec is invalid.
	Create(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error)

	// Get retrieves a task by ID.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id int64) (*domain.Task, error)

	// List returns tasks matching the filter, newest first.
	List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error)

	// UpdateStatus moves a task to a terminal status with its outcome.
	// Returns ErrInvalidTransition if the task is already terminal and
	// ErrNotOwner if update.Owner does not hold the lock.
	UpdateStatus(ctx context.Context, id int64, update StatusUpdate, now time.Time) error

	// ScheduleRetry returns a locked or running task to Pending with
	// AttemptCount incremented, the lock cleared and ScheduledFor = now+delay.
	ScheduleRetry(ctx context.Context, id int64, owner, errMsg string, delay time.Duration, now time.Time) error

	// RequestConfirmation parks a running task in PendingConfirmation. Any other
	// task pending confirmation on the same tenant and conversation is cancelled.
	RequestConfirmation(ctx context.Context, id int64, owner, prompt, result string, now time.Time) error

	// Confirm returns a PendingConfirmation task to Pending and records ConfirmedAt.
	Confirm(ctx context.Context, id int64, now time.Time) (*domain.Task, error)

	// Cancel terminates a pending, locked or pending_confirmation task immediately
	// and reports immediate=true. For a running task it sets CancelRequested and
	// reports immediate=false; the worker observes the flag and stops.
	Cancel(ctx context.Context, id int64, reason string, now time.Time) (immediate bool, err error)

	// MarkRunning moves a task locked by owner to Running.
	MarkRunning(ctx context.Context, id int64, owner string, now time.Time) error

	// Heartbeat refreshes HeartbeatAt for a running task held by owner and
	// reports whether cancellation has been requested.
	Heartbeat(ctx context.Context, id int64, owner string, now time.Time) (cancelRequested bool, err error)

	// ClaimNext atomically locks the highest-priority, oldest eligible task.
	// Returns ErrNoEligibleTask when nothing can be claimed.
	ClaimNext(ctx context.Context, params ClaimParams) (*domain.Task, error)

	// ReleaseStaleLocks handles Locked tasks whose lock predates staleBefore:
	// tasks created before tooOldBefore fail, the rest return to Pending.
	// The failed tasks are returned in their terminal state.
	ReleaseStaleLocks(ctx context.Context, staleBefore, tooOldBefore, now time.Time) (released int, failed []*domain.Task, err error)

	// RecoverStuckRunning handles Running tasks whose last liveness signal
	// predates stuckBefore: they return to Pending with AttemptCount incremented
	// while age and attempts allow, otherwise they fail, or are cancelled when a
	// cancel was requested. The terminated tasks are returned.
	RecoverStuckRunning(ctx context.Context, stuckBefore, tooOldBefore, now time.Time) (retried int, terminated []*domain.Task, err error)

	// Backlog counts eligible pending tasks per tenant and queue class.
	Backlog(ctx context.Context, now time.Time) ([]BacklogEntry, error)

	// FindPendingConfirmation returns the task awaiting confirmation on the conversation.
	// Returns ErrTaskNotFound when there is none.
	FindPendingConfirmation(ctx context.Context, tenantID, conversationRef string) (*domain.Task, error)

	// ListPendingOlderThan returns Pending tasks that became eligible before
	// cutoff, measured from the later of CreatedAt and ScheduledFor.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Task, error)

	// FailPendingOlderThan fails Pending tasks that became eligible before
	// cutoff, measured like ListPendingOlderThan, and returns them.
	FailPendingOlderThan(ctx context.Context, cutoff time.Time, reason string, now time.Time) ([]*domain.Task, error)

	// ExpireConfirmations cancels PendingConfirmation tasks whose confirmation
	// was requested before cutoff and returns them.
	ExpireConfirmations(ctx context.Context, cutoff time.Time, reason string, now time.Time) ([]*domain.Task, error)

	// PurgeTerminal deletes terminal tasks completed before the cutoff.
	PurgeTerminal(ctx context.Context, before time.Time) (int, error)
}

// Maintenance outcome messages recorded on tasks.
const (
	ReasonTooOldToRetry      = "too old to retry"
	ReasonStuckExhausted     = "stuck running, retries exhausted"
	ReasonSuperseded         = "superseded by a newer confirmation request"
	ReasonConfirmationDenied = "confirmation denied"
)
