package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending             TaskStatus = "pending"
	TaskStatusLocked              TaskStatus = "locked"
	TaskStatusRunning             TaskStatus = "running"
	TaskStatusPendingConfirmation TaskStatus = "pending_confirmation"
	TaskStatusCompleted           TaskStatus = "completed"
	TaskStatusFailed              TaskStatus = "failed"
	TaskStatusCancelled           TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsLocked reports whether a task in state s is owned by a worker.
func (s TaskStatus) IsLocked() bool {
	return s == TaskStatusLocked || s == TaskStatusRunning
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusLocked, TaskStatusRunning, TaskStatusPendingConfirmation,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// QueueClass partitions tasks into latency-sensitive and best-effort work.
type QueueClass string

const (
	QueueForeground QueueClass = "foreground"
	QueueBackground QueueClass = "background"
)

// QueueClasses lists the queue classes in dispatch order.
func QueueClasses() []QueueClass {
	return []QueueClass{QueueForeground, QueueBackground}
}

// Valid reports whether q is a known queue class.
func (q QueueClass) Valid() bool {
	return q == QueueForeground || q == QueueBackground
}

// SourceKind identifies which ingestion path produced a task.
type SourceKind string

const (
	SourceChat    SourceKind = "chat"
	SourceMail    SourceKind = "mail"
	SourceCron    SourceKind = "cron"
	SourceFile    SourceKind = "file"
	SourceCLI     SourceKind = "cli"
	SourceSubtask SourceKind = "subtask"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceChat, SourceMail, SourceCron, SourceFile, SourceCLI, SourceSubtask:
		return true
	}
	return false
}

const (
	// DefaultPriority is used when a creation spec does not set one.
	DefaultPriority = 5

	// DefaultMaxAttempts is used when neither the spec nor configuration sets one.
	DefaultMaxAttempts = 4

	// MaxAllowedAttempts bounds MaxAttempts so backoff delays stay finite.
	MaxAllowedAttempts = 10
)

// Task is the unit of work tracked from Pending to a terminal state.
type Task struct {
	ID         int64      `json:"id"`
	TenantID   string     `json:"tenant_id"`
	QueueClass QueueClass `json:"queue_class"`
	Priority   int        `json:"priority"`

	Prompt          string     `json:"prompt,omitempty"`
	Command         string     `json:"command,omitempty"`
	SourceKind      SourceKind `json:"source_kind"`
	ConversationRef *string    `json:"conversation_ref,omitempty"`
	ParentTaskID    *int64     `json:"parent_task_id,omitempty"`
	RecurringJobID  *int64     `json:"recurring_job_id,omitempty"`

	Status          TaskStatus `json:"status"`
	AttemptCount    int        `json:"attempt_count"`
	MaxAttempts     int        `json:"max_attempts"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
	LockedBy        *string    `json:"locked_by,omitempty"`
	LockedAt        *time.Time `json:"locked_at,omitempty"`
	HeartbeatAt     *time.Time `json:"heartbeat_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`

	Result                  string     `json:"result,omitempty"`
	ActionsLog              string     `json:"actions_log,omitempty"`
	Error                   string     `json:"error,omitempty"`
	ConfirmationPrompt      string     `json:"confirmation_prompt,omitempty"`
	ConfirmationRequestedAt *time.Time `json:"confirmation_requested_at,omitempty"`
	ConfirmedAt             *time.Time `json:"confirmed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsEligible reports whether the task may be claimed at now.
func (t *Task) IsEligible(now time.Time) bool {
	if t.Status != TaskStatusPending {
		return false
	}
	return t.ScheduledFor == nil || !t.ScheduledFor.After(now)
}

// EligibleSince returns when the task first became claimable: the later of
// its creation and its scheduled time.
func (t *Task) EligibleSince() time.Time {
	if t.ScheduledFor != nil && t.ScheduledFor.After(t.CreatedAt) {
		return *t.ScheduledFor
	}
	return t.CreatedAt
}

// LastSeenAlive returns the most recent liveness signal of a running task:
// its heartbeat, else its start, else its lock time.
func (t *Task) LastSeenAlive() time.Time {
	switch {
	case t.HeartbeatAt != nil:
		return *t.HeartbeatAt
	case t.StartedAt != nil:
		return *t.StartedAt
	case t.LockedAt != nil:
		return *t.LockedAt
	}
	return t.CreatedAt
}

// HasConversation reports whether the task can be answered on a conversation.
func (t *Task) HasConversation() bool {
	return t.ConversationRef != nil && strings.TrimSpace(*t.ConversationRef) != ""
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.ConversationRef = cloneString(t.ConversationRef)
	c.LockedBy = cloneString(t.LockedBy)
	c.ParentTaskID = cloneInt64(t.ParentTaskID)
	c.RecurringJobID = cloneInt64(t.RecurringJobID)
	c.ScheduledFor = cloneTime(t.ScheduledFor)
	c.LockedAt = cloneTime(t.LockedAt)
	c.HeartbeatAt = cloneTime(t.HeartbeatAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.ConfirmationRequestedAt = cloneTime(t.ConfirmationRequestedAt)
	c.ConfirmedAt = cloneTime(t.ConfirmedAt)
	return &c
}

// CreateTaskSpec describes a task submitted by an ingestion adapter or the
// recurring-job evaluator. Zero values select the documented defaults.
type CreateTaskSpec struct {
	TenantID        string     `json:"tenant_id"`
	Prompt          string     `json:"prompt,omitempty"`
	Command         string     `json:"command,omitempty"`
	SourceKind      SourceKind `json:"source_kind"`
	ConversationRef *string    `json:"conversation_ref,omitempty"`
	// Priority defaults to DefaultPriority when nil.
	Priority       *int       `json:"priority,omitempty"`
	QueueClass     QueueClass `json:"queue_class,omitempty"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
	ParentTaskID   *int64     `json:"parent_task_id,omitempty"`
	RecurringJobID *int64     `json:"recurring_job_id,omitempty"`
	// MaxAttempts defaults to the configured limit when zero.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// Validate checks the spec before defaults are applied.
func (s CreateTaskSpec) Validate() error {
	if strings.TrimSpace(s.TenantID) == "" {
		return ErrEmptyTenantID
	}
	if strings.TrimSpace(s.Prompt) == "" && strings.TrimSpace(s.Command) == "" {
		return ErrEmptyPayload
	}
	if !s.SourceKind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSourceKind, s.SourceKind)
	}
	if s.QueueClass != "" && !s.QueueClass.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidQueueClass, s.QueueClass)
	}
	if s.MaxAttempts < 0 || s.MaxAttempts > MaxAllowedAttempts {
		return fmt.Errorf("%w: %d", ErrInvalidMaxAttempts, s.MaxAttempts)
	}
	return nil
}

// NewTask validates the spec and builds a Pending task from it.
// defaultMaxAttempts applies when the spec leaves MaxAttempts unset; a
// non-positive value falls back to DefaultMaxAttempts. The ID is assigned by the store.
func NewTask(spec CreateTaskSpec, defaultMaxAttempts int, now time.Time) (*Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	priority := DefaultPriority
	if spec.Priority != nil {
		priority = *spec.Priority
	}

	queue := spec.QueueClass
	if queue == "" {
		queue = QueueForeground
	}

	maxAttempts := spec.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	if maxAttempts <= 0 || maxAttempts > MaxAllowedAttempts {
		maxAttempts = DefaultMaxAttempts
	}

	now = now.UTC()
	return &Task{
		TenantID:        spec.TenantID,
		QueueClass:      queue,
		Priority:        priority,
		Prompt:          spec.Prompt,
		Command:         spec.Command,
		SourceKind:      spec.SourceKind,
		ConversationRef: cloneString(spec.ConversationRef),
		ParentTaskID:    cloneInt64(spec.ParentTaskID),
		RecurringJobID:  cloneInt64(spec.RecurringJobID),
		Status:          TaskStatusPending,
		MaxAttempts:     maxAttempts,
		ScheduledFor:    cloneTime(spec.ScheduledFor),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// TaskFilter narrows ListTasks results. Zero values mean no filter.
type TaskFilter struct {
	Status   TaskStatus
	TenantID string
	Limit    int
}

// DefaultListLimit caps List results when the filter does not set a limit.
const DefaultListLimit = 50

// EffectiveLimit returns the limit to apply for this filter.
func (f TaskFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
