package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// TaskCreator creates the tasks fired by definitions. task.Service satisfies it.
type TaskCreator interface {
	CreateTask(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error)
}

// Evaluator fires due recurring definitions and applies their failure policy.
type Evaluator struct {
	jobs     store.RecurringJobStore
	tasks    TaskCreator
	cfg      config.ScheduleConfig
	builders map[domain.JobKind]PayloadBuilder
	source   *FileSource
	now      func() time.Time
	logger   *slog.Logger

	// warned remembers definitions whose time zone failed to load.
	warnMu sync.Mutex
	warned map[int64]string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithPayloadBuilder overrides how tasks of kind are built.
func WithPayloadBuilder(kind domain.JobKind, b PayloadBuilder) Option {
	return func(e *Evaluator) { e.builders[kind] = b }
}

// WithFileSource syncs definitions from src at the start of every tick.
func WithFileSource(src *FileSource) Option {
	return func(e *Evaluator) { e.source = src }
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(
	jobs store.RecurringJobStore,
	tasks TaskCreator,
	cfg config.ScheduleConfig,
	logger *slog.Logger,
	opts ...Option,
) *Evaluator {
	if jobs == nil || tasks == nil {
		panic("schedule: evaluator requires a job store and a task creator")
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		jobs:     jobs,
		tasks:    tasks,
		cfg:      cfg,
		builders: defaultBuilders(),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "schedule_evaluator")),
		warned:   make(map[int64]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run ticks every configured interval until ctx is done.
func (e *Evaluator) Run(ctx context.Context) {
	interval := e.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil {
				e.logger.Error("schedule tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// NextRun returns when job fires next after its last run.
func (e *Evaluator) NextRun(job *domain.RecurringJob) (time.Time, error) {
	sched, err := ParseCron(job.CronExpression)
	if err != nil {
		return time.Time{}, err
	}
	now := e.now()
	loc := e.location(job)
	return sched.Next(baseTime(job, now, loc)), nil
}

// IsDue reports whether job should fire at now.
func (e *Evaluator) IsDue(job *domain.RecurringJob, now time.Time) (bool, error) {
	sched, err := ParseCron(job.CronExpression)
	if err != nil {
		return false, err
	}
	next := sched.Next(baseTime(job, now, e.location(job)))
	return !next.IsZero() && !now.Before(next), nil
}

// Tick fires every due definition once and returns how many tasks it created.
// A definition that fails to fire is logged and does not stop the others.
func (e *Evaluator) Tick(ctx context.Context) (int, error) {
	if e.source != nil {
		e.syncFromSource(ctx)
	}

	jobs, err := e.jobs.ListEnabled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list recurring jobs: %w", err)
	}

	now := e.now().UTC()
	fired := 0
	for _, job := range jobs {
		log := e.logger.With(
			slog.Int64("job_id", job.ID),
			slog.String("tenant_id", job.TenantID),
			slog.String("job_name", job.Name))

		due, err := e.IsDue(job, now)
		if err != nil {
			log.Error("cannot evaluate recurring job", slog.String("error", err.Error()))
			continue
		}
		if !due {
			continue
		}

		ok, err := e.fire(ctx, job, now)
		if err != nil {
			log.Error("failed to fire recurring job", slog.String("error", err.Error()))
			e.recordFireFailure(ctx, log, job)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

// fire claims the run with a compare-and-set on LastRunAt and then creates
// the task. It reports false when another evaluator won the run.
func (e *Evaluator) fire(ctx context.Context, job *domain.RecurringJob, now time.Time) (bool, error) {
	won, err := e.jobs.MarkRun(ctx, job.ID, job.LastRunAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark run: %w", err)
	}
	if !won {
		e.logger.Debug("recurring job already fired elsewhere", slog.Int64("job_id", job.ID))
		return false, nil
	}

	kind := job.Kind
	if kind == "" {
		kind = domain.JobKindJob
	}
	build, ok := e.builders[kind]
	if !ok {
		return false, fmt.Errorf("no payload builder for kind %q", kind)
	}
	spec, err := build(job, now)
	if err != nil {
		return false, fmt.Errorf("failed to build payload: %w", err)
	}

	jobID := job.ID
	priority := job.Priority
	spec.TenantID = job.TenantID
	spec.QueueClass = domain.QueueBackground
	spec.SourceKind = domain.SourceCron
	spec.RecurringJobID = &jobID
	spec.Priority = &priority
	if spec.ConversationRef == nil && job.ConversationRef != nil {
		ref := *job.ConversationRef
		spec.ConversationRef = &ref
	}

	t, err := e.tasks.CreateTask(ctx, spec)
	if err != nil {
		return false, fmt.Errorf("failed to create task: %w", err)
	}
	e.logger.Info("recurring job fired",
		slog.Int64("job_id", job.ID),
		slog.Int64("task_id", t.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("job_name", job.Name))
	return true, nil
}

// recordFireFailure counts a run that could not produce a task. Store
// failures before the run was claimed leave the definition untouched.
func (e *Evaluator) recordFireFailure(ctx context.Context, log *slog.Logger, job *domain.RecurringJob) {
	current, err := e.jobs.Get(ctx, job.ID)
	if err != nil {
		return
	}
	if equalTimes(current.LastRunAt, job.LastRunAt) {
		return
	}
	if err := e.RecordOutcome(ctx, job.ID, false); err != nil {
		log.Error("failed to record recurring job failure", slog.String("error", err.Error()))
	}
}

// RecordOutcome applies the failure policy to the run of jobID that just
// finished. Unknown definitions, for example deleted by a sync, are ignored.
func (e *Evaluator) RecordOutcome(ctx context.Context, jobID int64, success bool) error {
	disabled, err := e.jobs.RecordOutcome(ctx, jobID, success, e.cfg.FailureCap, e.now().UTC())
	if store.IsNotFoundError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record outcome for job %d: %w", jobID, err)
	}
	if disabled {
		e.logger.Warn("recurring job disabled after repeated failures",
			slog.Int64("job_id", jobID),
			slog.Int("failure_cap", e.cfg.FailureCap))
	}
	return nil
}

// SyncDefinitions replaces tenantID's definitions with defs. Cron expressions
// and time zones are checked before anything is written.
func (e *Evaluator) SyncDefinitions(ctx context.Context, tenantID string, defs []domain.RecurringJob) error {
	for i := range defs {
		if _, err := ParseCron(defs[i].CronExpression); err != nil {
			return fmt.Errorf("%w: %s: %w", store.ErrInvalidEntity, defs[i].Name, err)
		}
		if _, err := loadLocation(defs[i].TimeZone); err != nil {
			return fmt.Errorf("%w: %s: unknown time zone %q", store.ErrInvalidEntity, defs[i].Name, defs[i].TimeZone)
		}
	}
	if err := e.jobs.Sync(ctx, tenantID, defs, e.now().UTC()); err != nil {
		return fmt.Errorf("failed to sync recurring jobs: %w", err)
	}
	e.logger.Info("recurring jobs synced",
		slog.String("tenant_id", tenantID),
		slog.Int("definitions", len(defs)))
	return nil
}

func (e *Evaluator) syncFromSource(ctx context.Context) {
	changes, err := e.source.Changes()
	if err != nil {
		e.logger.Error("failed to read recurring job definitions",
			slog.String("path", e.source.Path()),
			slog.String("error", err.Error()))
		return
	}
	for tenantID, defs := range changes {
		if err := e.SyncDefinitions(ctx, tenantID, defs); err != nil {
			e.logger.Error("failed to sync recurring job definitions",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()))
			e.source.Invalidate()
		}
	}
}

// location resolves job's time zone, falling back to UTC with one warning per definition and zone.
func (e *Evaluator) location(job *domain.RecurringJob) *time.Location {
	loc, err := loadLocation(job.TimeZone)
	if err == nil {
		return loc
	}

	e.warnMu.Lock()
	defer e.warnMu.Unlock()
	if e.warned[job.ID] != job.TimeZone {
		e.warned[job.ID] = job.TimeZone
		e.logger.Warn("unknown time zone, using UTC",
			slog.Int64("job_id", job.ID),
			slog.String("time_zone", job.TimeZone))
	}
	return time.UTC
}

func equalTimes(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
