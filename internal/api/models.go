package api

import (
	"strings"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/task"
)

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	TenantID        string     `json:"tenant_id"        validate:"required,max=128"`
	Prompt          string     `json:"prompt"`
	Command         string     `json:"command"`
	SourceKind      string     `json:"source_kind"      validate:"required,oneof=chat mail cron file cli subtask"`
	ConversationRef *string    `json:"conversation_ref" validate:"omitempty,max=256"`
	Priority        *int       `json:"priority"`
	QueueClass      string     `json:"queue_class"      validate:"omitempty,oneof=foreground background"`
	ScheduledFor    *time.Time `json:"scheduled_for"`
	ParentTaskID    *int64     `json:"parent_task_id"   validate:"omitempty,gt=0"`
	MaxAttempts     int        `json:"max_attempts"     validate:"gte=0,lte=10"`
}

func (r CreateTaskRequest) toSpec() domain.CreateTaskSpec {
	return domain.CreateTaskSpec{
		TenantID:        r.TenantID,
		Prompt:          r.Prompt,
		Command:         r.Command,
		SourceKind:      domain.SourceKind(r.SourceKind),
		ConversationRef: r.ConversationRef,
		Priority:        r.Priority,
		QueueClass:      domain.QueueClass(r.QueueClass),
		ScheduledFor:    r.ScheduledFor,
		ParentTaskID:    r.ParentTaskID,
		MaxAttempts:     r.MaxAttempts,
	}
}

// TaskResponse is the client view of a task. Lock details stay internal.
type TaskResponse struct {
	ID                 int64      `json:"id"`
	TenantID           string     `json:"tenant_id"`
	Status             string     `json:"status"`
	QueueClass         string     `json:"queue_class"`
	Priority           int        `json:"priority"`
	SourceKind         string     `json:"source_kind"`
	Prompt             string     `json:"prompt,omitempty"`
	Command            string     `json:"command,omitempty"`
	ConversationRef    *string    `json:"conversation_ref,omitempty"`
	ParentTaskID       *int64     `json:"parent_task_id,omitempty"`
	RecurringJobID     *int64     `json:"recurring_job_id,omitempty"`
	AttemptCount       int        `json:"attempt_count"`
	MaxAttempts        int        `json:"max_attempts"`
	CancelRequested    bool       `json:"cancel_requested"`
	ScheduledFor       *time.Time `json:"scheduled_for,omitempty"`
	Result             string     `json:"result,omitempty"`
	Error              string     `json:"error,omitempty"`
	ConfirmationPrompt string     `json:"confirmation_prompt,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:              t.ID,
		TenantID:        t.TenantID,
		Status:          string(t.Status),
		QueueClass:      string(t.QueueClass),
		Priority:        t.Priority,
		SourceKind:      string(t.SourceKind),
		Prompt:          t.Prompt,
		Command:         t.Command,
		ConversationRef: t.ConversationRef,
		ParentTaskID:    t.ParentTaskID,
		RecurringJobID:  t.RecurringJobID,
		AttemptCount:    t.AttemptCount,
		MaxAttempts:     t.MaxAttempts,
		CancelRequested: t.CancelRequested,
		ScheduledFor:    t.ScheduledFor,
		Result:          t.Result,
		ConfirmedAt:     t.ConfirmedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	switch t.Status {
	case domain.TaskStatusFailed, domain.TaskStatusCancelled:
		resp.Error = task.UserFacingError(t)
	case domain.TaskStatusPendingConfirmation:
		resp.ConfirmationPrompt = t.ConfirmationPrompt
	}
	return resp
}

// TaskListResponse is the body of GET /api/tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// ReplyRequest is the body of POST /api/replies.
type ReplyRequest struct {
	TenantID        string `json:"tenant_id"        validate:"required"`
	ConversationRef string `json:"conversation_ref" validate:"required"`
	Text            string `json:"text"             validate:"required"`
}

// ReplyResponse reports what a reply did.
type ReplyResponse struct {
	Outcome string        `json:"outcome"`
	Task    *TaskResponse `json:"task,omitempty"`
}

// RecurringJobRequest is one definition in a sync request.
type RecurringJobRequest struct {
	Name            string  `json:"name"             validate:"required,max=128"`
	Kind            string  `json:"kind"             validate:"omitempty,oneof=job digest consolidation"`
	CronExpression  string  `json:"cron"             validate:"required"`
	TimeZone        string  `json:"timezone"`
	Prompt          string  `json:"prompt"`
	Command         string  `json:"command"`
	ConversationRef *string `json:"conversation_ref"`
	Priority        *int    `json:"priority"`
	Enabled         *bool   `json:"enabled"`
}

func (r RecurringJobRequest) toDomain() domain.RecurringJob {
	job := domain.RecurringJob{
		Name:            strings.TrimSpace(r.Name),
		Kind:            domain.JobKind(r.Kind),
		CronExpression:  r.CronExpression,
		TimeZone:        r.TimeZone,
		Prompt:          r.Prompt,
		Command:         r.Command,
		ConversationRef: r.ConversationRef,
		Priority:        domain.DefaultPriority,
		Enabled:         true,
	}
	if r.Priority != nil {
		job.Priority = *r.Priority
	}
	if r.Enabled != nil {
		job.Enabled = *r.Enabled
	}
	return job
}

// SyncJobsRequest is the body of PUT /api/tenants/{tenant}/recurring-jobs.
type SyncJobsRequest struct {
	Jobs []RecurringJobRequest `json:"jobs" validate:"dive"`
}

// RecurringJobResponse is the client view of a definition.
type RecurringJobResponse struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	Kind                string     `json:"kind"`
	CronExpression      string     `json:"cron"`
	TimeZone            string     `json:"timezone,omitempty"`
	Enabled             bool       `json:"enabled"`
	DisabledReason      string     `json:"disabled_reason,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
}

// WorkersResponse lists live worker slots.
type WorkersResponse struct {
	Active  int             `json:"active"`
	Workers []task.SlotInfo `json:"workers"`
}
