package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/taskcore/internal/domain"
)

// Delivery reports task outcomes back to whoever requested the task.
type Delivery interface {
	// Deliver is called after every transition out of Running.
	Deliver(ctx context.Context, t *domain.Task) error

	// Notify sends a policy message, such as an expired confirmation, about t.
	Notify(ctx context.Context, t *domain.Task, message string) error

	// SupportsReplies reports whether the requester of t can answer a confirmation prompt.
	SupportsReplies(t *domain.Task) bool
}

// LogDelivery is a Delivery that only logs.
type LogDelivery struct {
	logger  *slog.Logger
	replies bool
}

var _ Delivery = (*LogDelivery)(nil)

// NewLogDelivery creates a LogDelivery. When supportsReplies is true every task
// with a conversation reference is treated as able to answer confirmations.
func NewLogDelivery(logger *slog.Logger, supportsReplies bool) *LogDelivery {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDelivery{logger: logger.With(slog.String("component", "delivery")), replies: supportsReplies}
}

// Deliver implements Delivery.
func (d *LogDelivery) Deliver(ctx context.Context, t *domain.Task) error {
	attrs := []any{
		slog.Int64("task_id", t.ID),
		slog.String("tenant_id", t.TenantID),
		slog.String("status", string(t.Status)),
	}
	switch t.Status {
	case domain.TaskStatusPendingConfirmation:
		attrs = append(attrs, slog.String("prompt", t.ConfirmationPrompt))
	case domain.TaskStatusFailed, domain.TaskStatusCancelled:
		attrs = append(attrs, slog.String("message", UserFacingError(t)))
	}
	d.logger.InfoContext(ctx, "task outcome delivered", attrs...)
	return nil
}

// Notify implements Delivery.
func (d *LogDelivery) Notify(ctx context.Context, t *domain.Task, message string) error {
	d.logger.InfoContext(ctx, "task notification",
		slog.Int64("task_id", t.ID),
		slog.String("tenant_id", t.TenantID),
		slog.String("message", message))
	return nil
}

// SupportsReplies implements Delivery.
func (d *LogDelivery) SupportsReplies(t *domain.Task) bool {
	return d.replies && t.HasConversation()
}

// UserFacingError returns the message shown to a requester for a task that did
// not complete. Raw error detail stays on the task.
func UserFacingError(t *domain.Task) string {
	switch t.Status {
	case domain.TaskStatusCancelled:
		return "The task was cancelled."
	case domain.TaskStatusFailed:
		return "Sorry, something went wrong while working on your request. Please try again later."
	}
	return ""
}
