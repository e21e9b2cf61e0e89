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

const jobColumns = `id, tenant_id, name, kind, prompt, command, cron_expression, time_zone,
	conversation_ref, priority, enabled, disabled_reason, last_run_at, consecutive_failures,
	created_at, updated_at`

// PostgresJobStore implements the store.RecurringJobStore interface
// using a PostgreSQL database as the storage backend.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgreSQL implementation of the RecurringJobStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

// Ensure PostgresJobStore implements store.RecurringJobStore interface
var _ store.RecurringJobStore = (*PostgresJobStore)(nil)

// WithTx returns a store that runs its statements on tx.
func (s *PostgresJobStore) WithTx(tx *sql.Tx) *PostgresJobStore {
	return &PostgresJobStore{db: tx, logger: s.logger}
}

// ListEnabled implements store.RecurringJobStore.ListEnabled
func (s *PostgresJobStore) ListEnabled(ctx context.Context) ([]*domain.RecurringJob, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM recurring_jobs WHERE enabled ORDER BY id`)
}

// List implements store.RecurringJobStore.List
func (s *PostgresJobStore) List(ctx context.Context, tenantID string) ([]*domain.RecurringJob, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM recurring_jobs WHERE tenant_id = $1 ORDER BY name`, tenantID)
}

// Get implements store.RecurringJobStore.Get
func (s *PostgresJobStore) Get(ctx context.Context, id int64) (*domain.RecurringJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM recurring_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, mapNotFound(err, store.ErrJobNotFound)
	}
	return j, nil
}

// MarkRun implements store.RecurringJobStore.MarkRun.
// The update only applies while last_run_at still equals prev, so two
// evaluators racing on the same occurrence fire it once.
func (s *PostgresJobStore) MarkRun(ctx context.Context, id int64, prev *time.Time, runAt time.Time) (bool, error) {
	query := `
		UPDATE recurring_jobs
		SET last_run_at = $3, updated_at = $3
		WHERE id = $1 AND last_run_at IS NOT DISTINCT FROM $2`

	result, err := s.db.ExecContext(ctx, query, id, nullTime(prev), runAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark job run: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if err := s.exists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// RecordOutcome implements store.RecurringJobStore.RecordOutcome
func (s *PostgresJobStore) RecordOutcome(
	ctx context.Context,
	id int64,
	success bool,
	failureCap int,
	now time.Time,
) (bool, error) {
	query := `
		WITH prev AS (
			SELECT id, enabled FROM recurring_jobs WHERE id = $1 FOR UPDATE
		)
		UPDATE recurring_jobs AS j
		SET consecutive_failures = CASE WHEN $2 THEN 0 ELSE j.consecutive_failures + 1 END,
			enabled = j.enabled AND NOT (NOT $2 AND $3 > 0 AND j.consecutive_failures + 1 > $3),
			disabled_reason = CASE
				WHEN j.enabled AND NOT $2 AND $3 > 0 AND j.consecutive_failures + 1 > $3 THEN $4
				ELSE j.disabled_reason END,
			updated_at = $5
		FROM prev
		WHERE j.id = prev.id
		RETURNING prev.enabled AND NOT j.enabled`

	var disabled bool
	err := s.db.QueryRowContext(ctx, query, id, success, failureCap, domain.DisabledByFailureCap, now).
		Scan(&disabled)
	if err != nil {
		return false, mapNotFound(err, store.ErrJobNotFound)
	}
	if disabled {
		s.logger.Warn("recurring job disabled after consecutive failures",
			slog.Int64("job_id", id),
			slog.Int("failure_cap", failureCap))
	}
	return disabled, nil
}

// Sync implements store.RecurringJobStore.Sync
func (s *PostgresJobStore) Sync(ctx context.Context, tenantID string, defs []domain.RecurringJob, now time.Time) error {
	defs = append([]domain.RecurringJob(nil), defs...)
	names := make([]string, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for i := range defs {
		defs[i].TenantID = tenantID
		if defs[i].Kind == "" {
			defs[i].Kind = domain.JobKindJob
		}
		if err := defs[i].Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", store.ErrInvalidEntity, defs[i].Name, err)
		}
		if _, dup := seen[defs[i].Name]; dup {
			return fmt.Errorf("%w: %s", store.ErrJobNameExists, defs[i].Name)
		}
		seen[defs[i].Name] = struct{}{}
		names = append(names, defs[i].Name)
	}

	return s.inTx(ctx, func(ctx context.Context, tx *PostgresJobStore) error {
		upsert := `
			INSERT INTO recurring_jobs (tenant_id, name, kind, prompt, command, cron_expression,
				time_zone, conversation_ref, priority, enabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			ON CONFLICT (tenant_id, name) DO UPDATE SET
				kind = EXCLUDED.kind,
				prompt = EXCLUDED.prompt,
				command = EXCLUDED.command,
				cron_expression = EXCLUDED.cron_expression,
				time_zone = EXCLUDED.time_zone,
				conversation_ref = EXCLUDED.conversation_ref,
				priority = EXCLUDED.priority,
				enabled = EXCLUDED.enabled
					AND (recurring_jobs.enabled OR recurring_jobs.disabled_reason = ''),
				updated_at = EXCLUDED.updated_at`

		for i := range defs {
			d := &defs[i]
			_, err := tx.db.ExecContext(ctx, upsert,
				tenantID, d.Name, string(d.Kind), d.Prompt, d.Command, d.CronExpression,
				d.TimeZone, nullString(d.ConversationRef), d.Priority, d.Enabled, now)
			if err != nil {
				return fmt.Errorf("failed to upsert recurring job %s: %w", d.Name, MapError(err))
			}
		}

		result, err := tx.db.ExecContext(ctx,
			`DELETE FROM recurring_jobs WHERE tenant_id = $1 AND NOT (name = ANY($2))`,
			tenantID, names)
		if err != nil {
			return fmt.Errorf("failed to delete removed recurring jobs: %w", MapError(err))
		}
		removed, _ := result.RowsAffected()

		s.logger.Info("recurring jobs synced",
			slog.String("tenant_id", tenantID),
			slog.Int("definitions", len(defs)),
			slog.Int64("removed", removed))
		return nil
	})
}

// SetEnabled implements store.RecurringJobStore.SetEnabled
func (s *PostgresJobStore) SetEnabled(
	ctx context.Context,
	id int64,
	enabled bool,
	reason string,
	now time.Time,
) error {
	if err := store.CheckDisableReason(enabled, reason); err != nil {
		return err
	}
	query := `
		UPDATE recurring_jobs
		SET enabled = $2,
			disabled_reason = CASE WHEN $2 THEN '' ELSE $3 END,
			consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures END,
			updated_at = $4
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, id, enabled, reason, now)
	if err != nil {
		return fmt.Errorf("failed to set job enabled: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", store.ErrJobNotFound, id)
	}
	return nil
}

func (s *PostgresJobStore) exists(ctx context.Context, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM recurring_jobs WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", store.ErrJobNotFound, id)
	}
	if err != nil {
		return MapError(err)
	}
	return nil
}

func (s *PostgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.RecurringJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring jobs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*domain.RecurringJob, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recurring job rows: %w", err)
	}
	return jobs, nil
}

func (s *PostgresJobStore) inTx(ctx context.Context, fn func(ctx context.Context, tx *PostgresJobStore) error) error {
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

func scanJob(row rowScanner) (*domain.RecurringJob, error) {
	var (
		j               domain.RecurringJob
		kind            string
		conversationRef sql.NullString
		lastRunAt       sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.TenantID, &j.Name, &kind, &j.Prompt, &j.Command, &j.CronExpression, &j.TimeZone,
		&conversationRef, &j.Priority, &j.Enabled, &j.DisabledReason, &lastRunAt, &j.ConsecutiveFailures,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Kind = domain.JobKind(kind)
	j.ConversationRef = stringPtr(conversationRef)
	j.LastRunAt = timePtr(lastRunAt)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}
