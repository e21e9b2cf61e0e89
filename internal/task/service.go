package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// ReasonUserCancelled is recorded when a requester cancels a task directly.
const ReasonUserCancelled = "cancelled by request"

// Service is the entry point for creating and managing tasks.
type Service struct {
	store              store.TaskStore
	notifier           Notifier
	defaultMaxAttempts int
	now                func() time.Time
	logger             *slog.Logger
}

// NewService creates a Service. notifier, usually the Pool, is told about new
// claimable work and may be nil.
func NewService(s store.TaskStore, notifier Notifier, defaultMaxAttempts int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = domain.DefaultMaxAttempts
	}
	return &Service{
		store:              s,
		notifier:           notifier,
		defaultMaxAttempts: defaultMaxAttempts,
		now:                time.Now,
		logger:             logger.With(slog.String("component", "task_service")),
	}
}

// CreateTask stores a new Pending task and wakes the dispatcher.
func (s *Service) CreateTask(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error) {
	if spec.MaxAttempts == 0 {
		spec.MaxAttempts = s.defaultMaxAttempts
	}
	t, err := s.store.Create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	s.logger.InfoContext(ctx, "task created",
		slog.Int64("task_id", t.ID),
		slog.String("tenant_id", t.TenantID),
		slog.String("queue_class", string(t.QueueClass)),
		slog.String("source_kind", string(t.SourceKind)))
	s.notifier.Notify()
	return t, nil
}

// GetTask returns the task with id.
func (s *Service) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	return s.store.Get(ctx, id)
}

// ListTasks returns tasks matching filter, newest first.
func (s *Service) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	return s.store.List(ctx, filter)
}

// CancelTask cancels a task. A running task only gets its cancel flag set and
// stops when its worker observes it; the returned task reflects that.
func (s *Service) CancelTask(ctx context.Context, id int64) (*domain.Task, error) {
	immediate, err := s.store.Cancel(ctx, id, ReasonUserCancelled, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}
	s.logger.InfoContext(ctx, "task cancel requested",
		slog.Int64("task_id", id),
		slog.Bool("immediate", immediate))
	return s.store.Get(ctx, id)
}

// ConfirmTask approves a task awaiting confirmation so it runs again.
func (s *Service) ConfirmTask(ctx context.Context, id int64) (*domain.Task, error) {
	t, err := s.store.Confirm(ctx, id, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to confirm task: %w", err)
	}
	s.logger.InfoContext(ctx, "task confirmed", slog.Int64("task_id", id))
	s.notifier.Notify()
	return t, nil
}
