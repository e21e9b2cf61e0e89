package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobKind selects how a recurring definition's payload is built.
type JobKind string

const (
	JobKindJob           JobKind = "job"
	JobKindDigest        JobKind = "digest"
	JobKindConsolidation JobKind = "consolidation"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindJob, JobKindDigest, JobKindConsolidation:
		return true
	}
	return false
}

// DisabledByFailureCap is the DisabledReason set when the failure policy
// turns a definition off.
const DisabledByFailureCap = "consecutive failure cap exceeded"

// RecurringJob is a cron-scheduled template that periodically materializes tasks.
// It never holds task state itself.
type RecurringJob struct {
	ID              int64   `json:"id"`
	TenantID        string  `json:"tenant_id"`
	Name            string  `json:"name"`
	Kind            JobKind `json:"kind"`
	Prompt          string  `json:"prompt,omitempty"`
	Command         string  `json:"command,omitempty"`
	CronExpression  string  `json:"cron_expression"`
	TimeZone        string  `json:"time_zone,omitempty"`
	ConversationRef *string `json:"conversation_ref,omitempty"`
	Priority        int     `json:"priority"`

	Enabled             bool       `json:"enabled"`
	DisabledReason      string     `json:"disabled_reason,omitempty"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the definition carries everything needed to fire.
// The cron expression itself is parsed by the schedule package.
func (j *RecurringJob) Validate() error {
	if strings.TrimSpace(j.TenantID) == "" {
		return ErrEmptyTenantID
	}
	if strings.TrimSpace(j.Name) == "" {
		return ErrEmptyJobName
	}
	if strings.TrimSpace(j.CronExpression) == "" {
		return ErrEmptyCronExpression
	}
	if j.Kind != "" && !j.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobKind, j.Kind)
	}
	if j.Kind == JobKindJob || j.Kind == "" {
		if strings.TrimSpace(j.Prompt) == "" && strings.TrimSpace(j.Command) == "" {
			return ErrEmptyPayload
		}
	}
	return nil
}

// Clone creates a deep copy of the definition.
func (j *RecurringJob) Clone() *RecurringJob {
	c := *j
	c.ConversationRef = cloneString(j.ConversationRef)
	c.LastRunAt = cloneTime(j.LastRunAt)
	return &c
}
