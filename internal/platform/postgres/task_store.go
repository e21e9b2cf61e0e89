package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// taskColumns lists the tasks columns in scanTask order.
const taskColumns = `id, tenant_id, queue_class, priority, prompt, command, source_kind,
	conversation_ref, parent_task_id, recurring_job_id, status, attempt_count, max_attempts,
	scheduled_for, locked_by, locked_at, heartbeat_at, started_at, completed_at, cancel_requested,
	result, actions_log, error, confirmation_prompt, confirmation_requested_at, confirmed_at,
	created_at, updated_at`

const terminalStatuses = `('completed', 'failed', 'cancelled')`

// eligibleSince is the later of created_at and scheduled_for.
const eligibleSince = `GREATEST(created_at, COALESCE(scheduled_for, created_at))`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a store that runs its statements on tx.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) *PostgresTaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error) {
	t, err := domain.NewTask(spec, 0, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (tenant_id, queue_class, priority, prompt, command, source_kind,
			conversation_ref, parent_task_id, recurring_job_id, status, max_attempts,
			scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING ` + taskColumns

	row := s.db.QueryRowContext(ctx, query,
		t.TenantID, string(t.QueueClass), t.Priority, t.Prompt, t.Command, string(t.SourceKind),
		nullString(t.ConversationRef), nullInt64(t.ParentTaskID), nullInt64(t.RecurringJobID),
		string(t.Status), t.MaxAttempts, nullTime(t.ScheduledFor), t.CreatedAt,
	)
	created, err := scanTask(row)
	if err != nil {
		s.logger.Error("failed to create task",
			slog.String("tenant_id", t.TenantID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to create task: %w", MapError(err))
	}

	s.logger.Debug("task created",
		slog.Int64("task_id", created.ID),
		slog.String("tenant_id", created.TenantID),
		slog.String("queue_class", string(created.QueueClass)))
	return created, nil
}

// Get implements store.TaskStore.Get
func (s *PostgresTaskStore) Get(ctx context.Context, id int64) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, mapNotFound(err, store.ErrTaskNotFound)
	}
	return t, nil
}

// List implements store.TaskStore.List
func (s *PostgresTaskStore) List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR tenant_id = $2)
		ORDER BY id DESC
		LIMIT $3`
	return s.queryTasks(ctx, query, string(filter.Status), filter.TenantID, filter.EffectiveLimit())
}

// UpdateStatus implements store.TaskStore.UpdateStatus
func (s *PostgresTaskStore) UpdateStatus(
	ctx context.Context,
	id int64,
	update store.StatusUpdate,
	now time.Time,
) error {
	if !update.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", store.ErrInvalidTransition, update.Status)
	}

	query := `
		UPDATE tasks
		SET status = $2, result = $3, actions_log = $4, error = $5,
			locked_by = NULL, locked_at = NULL, heartbeat_at = NULL,
			completed_at = $7, updated_at = $7
		WHERE id = $1
			AND status NOT IN ` + terminalStatuses + `
			AND ($6 = '' OR (status IN ('locked', 'running') AND locked_by = $6))`

	result, err := s.db.ExecContext(ctx, query,
		id, string(update.Status), update.Result, update.ActionsLog, update.Error, update.Owner, now)
	if err != nil {
		s.logger.Error("failed to update task status",
			slog.Int64("task_id", id),
			slog.String("status", string(update.Status)),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to update task status: %w", MapError(err))
	}
	return s.checkApplied(ctx, result, id, update.Owner)
}

// ScheduleRetry implements store.TaskStore.ScheduleRetry
func (s *PostgresTaskStore) ScheduleRetry(
	ctx context.Context,
	id int64,
	owner, errMsg string,
	delay time.Duration,
	now time.Time,
) error {
	query := `
		UPDATE tasks
		SET status = 'pending', attempt_count = attempt_count + 1, error = $3, scheduled_for = $4,
			locked_by = NULL, locked_at = NULL, heartbeat_at = NULL, started_at = NULL,
			cancel_requested = FALSE, updated_at = $5
		WHERE id = $1 AND status IN ('locked', 'running') AND ($2 = '' OR locked_by = $2)`

	result, err := s.db.ExecContext(ctx, query, id, owner, errMsg, now.Add(delay), now)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", MapError(err))
	}
	return s.checkApplied(ctx, result, id, owner)
}

// RequestConfirmation implements store.TaskStore.RequestConfirmation.
// Superseding and parking run in one transaction so the unique
// per-conversation index never sees two pending confirmations.
func (s *PostgresTaskStore) RequestConfirmation(
	ctx context.Context,
	id int64,
	owner, prompt, result string,
	now time.Time,
) error {
	return s.inTx(ctx, func(ctx context.Context, tx *PostgresTaskStore) error {
		supersede := `
			UPDATE tasks AS other
			SET status = 'cancelled', error = $2, completed_at = $3, updated_at = $3
			FROM tasks AS target
			WHERE target.id = $1
				AND target.conversation_ref IS NOT NULL
				AND other.id <> target.id
				AND other.status = 'pending_confirmation'
				AND other.tenant_id = target.tenant_id
				AND other.conversation_ref = target.conversation_ref`
		if _, err := tx.db.ExecContext(ctx, supersede, id, store.ReasonSuperseded, now); err != nil {
			return fmt.Errorf("failed to supersede confirmations: %w", MapError(err))
		}

		park := `
			UPDATE tasks
			SET status = 'pending_confirmation', confirmation_prompt = $3, result = $4,
				confirmation_requested_at = $5, locked_by = NULL, locked_at = NULL,
				heartbeat_at = NULL, updated_at = $5
			WHERE id = $1 AND status IN ('locked', 'running') AND ($2 = '' OR locked_by = $2)`
		res, err := tx.db.ExecContext(ctx, park, id, owner, prompt, result, now)
		if err != nil {
			return fmt.Errorf("failed to request confirmation: %w", MapError(err))
		}
		return tx.checkApplied(ctx, res, id, owner)
	})
}

// Confirm implements store.TaskStore.Confirm
func (s *PostgresTaskStore) Confirm(ctx context.Context, id int64, now time.Time) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'pending', confirmed_at = $2, scheduled_for = NULL, updated_at = $2
		WHERE id = $1 AND status = 'pending_confirmation'
		RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, id, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.classifyMiss(ctx, id, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to confirm task: %w", MapError(err))
	}
	return t, nil
}

// Cancel implements store.TaskStore.Cancel
func (s *PostgresTaskStore) Cancel(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE tasks
		SET cancel_requested = (status = 'running') OR cancel_requested,
			error        = CASE WHEN status = 'running' THEN error ELSE $2 END,
			completed_at = CASE WHEN status = 'running' THEN completed_at ELSE $3 END,
			locked_by    = CASE WHEN status = 'running' THEN locked_by ELSE NULL END,
			locked_at    = CASE WHEN status = 'running' THEN locked_at ELSE NULL END,
			heartbeat_at = CASE WHEN status = 'running' THEN heartbeat_at ELSE NULL END,
			status       = CASE WHEN status = 'running' THEN status ELSE 'cancelled' END,
			updated_at = $3
		WHERE id = $1 AND status NOT IN ` + terminalStatuses + `
		RETURNING status`

	var status string
	err := s.db.QueryRowContext(ctx, query, id, reason, now).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, s.classifyMiss(ctx, id, "")
	}
	if err != nil {
		return false, fmt.Errorf("failed to cancel task: %w", MapError(err))
	}
	return domain.TaskStatus(status) == domain.TaskStatusCancelled, nil
}

// MarkRunning implements store.TaskStore.MarkRunning
func (s *PostgresTaskStore) MarkRunning(ctx context.Context, id int64, owner string, now time.Time) error {
	query := `
		UPDATE tasks
		SET status = 'running', started_at = $3, heartbeat_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'locked' AND locked_by = $2`

	result, err := s.db.ExecContext(ctx, query, id, owner, now)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", MapError(err))
	}
	if err := s.checkApplied(ctx, result, id, owner); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return store.ErrNotOwner
		}
		return err
	}
	return nil
}

// Heartbeat implements store.TaskStore.Heartbeat
func (s *PostgresTaskStore) Heartbeat(ctx context.Context, id int64, owner string, now time.Time) (bool, error) {
	query := `
		UPDATE tasks
		SET heartbeat_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'running' AND locked_by = $2
		RETURNING cancel_requested`

	var cancelRequested bool
	err := s.db.QueryRowContext(ctx, query, id, owner, now).Scan(&cancelRequested)
	if errors.Is(err, sql.ErrNoRows) {
		if missErr := s.classifyMiss(ctx, id, owner); errors.Is(missErr, store.ErrTaskNotFound) {
			return false, missErr
		}
		return false, store.ErrNotOwner
	}
	if err != nil {
		return false, fmt.Errorf("failed to record heartbeat: %w", MapError(err))
	}
	return cancelRequested, nil
}

// ClaimNext implements store.TaskStore.ClaimNext.
// Selection and locking happen in one statement; SKIP LOCKED lets concurrent
// claimers move past a candidate another transaction is already taking.
func (s *PostgresTaskStore) ClaimNext(ctx context.Context, params store.ClaimParams) (*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'locked', locked_by = $1, locked_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending'
				AND (scheduled_for IS NULL OR scheduled_for <= $2)
				AND ($3 = '' OR tenant_id = $3)
				AND ($4 = '' OR queue_class = $4)
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = 'pending'
		RETURNING ` + taskColumns

	row := s.db.QueryRowContext(ctx, query,
		params.WorkerID, params.Now, params.TenantID, string(params.QueueClass))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNoEligibleTask
	}
	if err != nil {
		s.logger.Error("failed to claim task",
			slog.String("worker_id", params.WorkerID),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to claim task: %w", MapError(err))
	}
	return t, nil
}

// ReleaseStaleLocks implements store.TaskStore.ReleaseStaleLocks
func (s *PostgresTaskStore) ReleaseStaleLocks(
	ctx context.Context,
	staleBefore, tooOldBefore, now time.Time,
) (int, []*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status       = CASE WHEN created_at < $2 THEN 'failed' ELSE 'pending' END,
			error        = CASE WHEN created_at < $2 THEN $4 ELSE error END,
			completed_at = CASE WHEN created_at < $2 THEN $3::timestamptz ELSE NULL END,
			started_at   = CASE WHEN created_at < $2 THEN started_at ELSE NULL END,
			locked_by = NULL, locked_at = NULL, heartbeat_at = NULL, updated_at = $3
		WHERE status = 'locked' AND locked_at < $1
		RETURNING ` + taskColumns

	return s.splitOutcomes(ctx, query, staleBefore, tooOldBefore, now, store.ReasonTooOldToRetry)
}

// RecoverStuckRunning implements store.TaskStore.RecoverStuckRunning
func (s *PostgresTaskStore) RecoverStuckRunning(
	ctx context.Context,
	stuckBefore, tooOldBefore, now time.Time,
) (int, []*domain.Task, error) {
	query := `
		WITH stuck AS (
			SELECT id AS stuck_id,
				NOT cancel_requested AND created_at >= $2 AND attempt_count + 1 < max_attempts AS retry
			FROM tasks
			WHERE status = 'running' AND COALESCE(heartbeat_at, started_at, locked_at, created_at) < $1
			FOR UPDATE
		)
		UPDATE tasks
		SET status        = CASE WHEN stuck.retry THEN 'pending'
		                         WHEN tasks.cancel_requested THEN 'cancelled'
		                         ELSE 'failed' END,
			attempt_count = CASE WHEN stuck.retry THEN tasks.attempt_count + 1 ELSE tasks.attempt_count END,
			error         = CASE WHEN stuck.retry OR tasks.cancel_requested THEN tasks.error ELSE $4 END,
			completed_at  = CASE WHEN stuck.retry THEN NULL ELSE $3::timestamptz END,
			started_at    = CASE WHEN stuck.retry THEN NULL ELSE tasks.started_at END,
			locked_by = NULL, locked_at = NULL, heartbeat_at = NULL, updated_at = $3
		FROM stuck
		WHERE tasks.id = stuck.stuck_id
		RETURNING ` + taskColumns

	return s.splitOutcomes(ctx, query, stuckBefore, tooOldBefore, now, store.ReasonStuckExhausted)
}

// Backlog implements store.TaskStore.Backlog
func (s *PostgresTaskStore) Backlog(ctx context.Context, now time.Time) ([]store.BacklogEntry, error) {
	query := `
		SELECT tenant_id, queue_class, COUNT(*)
		FROM tasks
		WHERE status = 'pending' AND (scheduled_for IS NULL OR scheduled_for <= $1)
		GROUP BY tenant_id, queue_class
		ORDER BY tenant_id, queue_class`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	entries := make([]store.BacklogEntry, 0)
	for rows.Next() {
		var e store.BacklogEntry
		var class string
		if err := rows.Scan(&e.TenantID, &class, &e.Pending); err != nil {
			return nil, fmt.Errorf("failed to scan backlog row: %w", err)
		}
		e.QueueClass = domain.QueueClass(class)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backlog rows: %w", err)
	}
	return entries, nil
}

// FindPendingConfirmation implements store.TaskStore.FindPendingConfirmation
func (s *PostgresTaskStore) FindPendingConfirmation(
	ctx context.Context,
	tenantID, conversationRef string,
) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'pending_confirmation' AND tenant_id = $1 AND conversation_ref = $2
		ORDER BY id DESC
		LIMIT 1`

	t, err := scanTask(s.db.QueryRowContext(ctx, query, tenantID, conversationRef))
	if err != nil {
		return nil, mapNotFound(err, store.ErrTaskNotFound)
	}
	return t, nil
}

// ListPendingOlderThan implements store.TaskStore.ListPendingOlderThan
func (s *PostgresTaskStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending' AND ` + eligibleSince + ` < $1 ORDER BY id`
	return s.queryTasks(ctx, query, cutoff)
}

// FailPendingOlderThan implements store.TaskStore.FailPendingOlderThan
func (s *PostgresTaskStore) FailPendingOlderThan(
	ctx context.Context,
	cutoff time.Time,
	reason string,
	now time.Time,
) ([]*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'failed', error = $2, completed_at = $3, updated_at = $3
		WHERE status = 'pending' AND ` + eligibleSince + ` < $1
		RETURNING ` + taskColumns
	return s.queryTasks(ctx, query, cutoff, reason, now)
}

// ExpireConfirmations implements store.TaskStore.ExpireConfirmations
func (s *PostgresTaskStore) ExpireConfirmations(
	ctx context.Context,
	cutoff time.Time,
	reason string,
	now time.Time,
) ([]*domain.Task, error) {
	query := `
		UPDATE tasks
		SET status = 'cancelled', error = $2, completed_at = $3, updated_at = $3
		WHERE status = 'pending_confirmation' AND confirmation_requested_at < $1
		RETURNING ` + taskColumns
	return s.queryTasks(ctx, query, cutoff, reason, now)
}

// PurgeTerminal implements store.TaskStore.PurgeTerminal
func (s *PostgresTaskStore) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE status IN `+terminalStatuses+` AND completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal tasks: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// splitOutcomes runs a maintenance statement returning the touched rows and
// splits them into a count of those back in Pending and the terminated tasks.
func (s *PostgresTaskStore) splitOutcomes(ctx context.Context, query string, args ...any) (int, []*domain.Task, error) {
	touched, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to run maintenance: %w", err)
	}

	retried := 0
	terminated := make([]*domain.Task, 0)
	for _, t := range touched {
		if t.Status == domain.TaskStatusPending {
			retried++
			continue
		}
		terminated = append(terminated, t)
	}
	return retried, terminated, nil
}

// checkApplied turns a zero-row conditional update into the error explaining why.
func (s *PostgresTaskStore) checkApplied(ctx context.Context, result sql.Result, id int64, owner string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	return s.classifyMiss(ctx, id, owner)
}

// classifyMiss inspects a task after a conditional update matched nothing.
func (s *PostgresTaskStore) classifyMiss(ctx context.Context, id int64, owner string) error {
	var status string
	var lockedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT status, locked_by FROM tasks WHERE id = $1`, id).
		Scan(&status, &lockedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id)
		}
		return fmt.Errorf("failed to inspect task: %w", MapError(err))
	}

	st := domain.TaskStatus(status)
	if owner != "" && st.IsLocked() && lockedBy.String != owner {
		return store.ErrNotOwner
	}
	return fmt.Errorf("%w: task %d is %s", store.ErrInvalidTransition, id, st)
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// inTx runs fn in a transaction, reusing the current one when the store is already bound to a *sql.Tx.
func (s *PostgresTaskStore) inTx(ctx context.Context, fn func(ctx context.Context, tx *PostgresTaskStore) error) error {
	if tx, ok := s.db.(*sql.Tx); ok {
		return fn(ctx, s.WithTx(tx))
	}
	beginner, ok := s.db.(store.TxBeginner)
	if !ok {
		return fn(ctx, s)
	}
	return store.RunInTransaction(ctx, beginner, nil, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, s.WithTx(tx))
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                                         domain.Task
		queueClass, sourceKind, status            string
		conversationRef, lockedBy                 sql.NullString
		parentTaskID, recurringJobID              sql.NullInt64
		scheduledFor, lockedAt, heartbeatAt       sql.NullTime
		startedAt, completedAt                    sql.NullTime
		confirmationRequestedAt, confirmedAt      sql.NullTime
	)

	err := row.Scan(
		&t.ID, &t.TenantID, &queueClass, &t.Priority, &t.Prompt, &t.Command, &sourceKind,
		&conversationRef, &parentTaskID, &recurringJobID, &status, &t.AttemptCount, &t.MaxAttempts,
		&scheduledFor, &lockedBy, &lockedAt, &heartbeatAt, &startedAt, &completedAt, &t.CancelRequested,
		&t.Result, &t.ActionsLog, &t.Error, &t.ConfirmationPrompt, &confirmationRequestedAt, &confirmedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.QueueClass = domain.QueueClass(queueClass)
	t.SourceKind = domain.SourceKind(sourceKind)
	t.Status = domain.TaskStatus(status)
	t.ConversationRef = stringPtr(conversationRef)
	t.LockedBy = stringPtr(lockedBy)
	t.ParentTaskID = int64Ptr(parentTaskID)
	t.RecurringJobID = int64Ptr(recurringJobID)
	t.ScheduledFor = timePtr(scheduledFor)
	t.LockedAt = timePtr(lockedAt)
	t.HeartbeatAt = timePtr(heartbeatAt)
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.ConfirmationRequestedAt = timePtr(confirmationRequestedAt)
	t.ConfirmedAt = timePtr(confirmedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time.UTC()
	return &v
}
