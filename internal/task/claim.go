package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// ClaimRequest scopes a claim. Empty TenantID or QueueClass matches any.
// A zero MaxRetryAge uses the configured default.
type ClaimRequest struct {
	WorkerID    string
	TenantID    string
	QueueClass  domain.QueueClass
	MaxRetryAge time.Duration
}

// Claimer recovers abandoned locks and then atomically claims the next eligible task.
type Claimer struct {
	store    store.TaskStore
	cfg      config.ClaimConfig
	delivery Delivery
	jobs     JobOutcomeRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// ClaimerOption configures a Claimer.
type ClaimerOption func(*Claimer)

// WithClaimClock replaces time.Now.
func WithClaimClock(now func() time.Time) ClaimerOption {
	return func(c *Claimer) { c.now = now }
}

// WithClaimReporting reports tasks that maintenance terminates: delivery hears
// about every one and jobs records a failure for recurring executions. Either may be nil.
func WithClaimReporting(delivery Delivery, jobs JobOutcomeRecorder) ClaimerOption {
	return func(c *Claimer) {
		c.delivery = delivery
		c.jobs = jobs
	}
}

// NewClaimer creates a Claimer over s.
func NewClaimer(s store.TaskStore, cfg config.ClaimConfig, logger *slog.Logger, opts ...ClaimerOption) *Claimer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Claimer{
		store:  s,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "claimer")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claim releases stale locks, recovers stuck executions and claims the next
// eligible task for req. It returns store.ErrNoEligibleTask when nothing is eligible.
// Maintenance failures are logged and never prevent the claim itself.
func (c *Claimer) Claim(ctx context.Context, req ClaimRequest) (*domain.Task, error) {
	now := c.now().UTC()
	maxRetryAge := req.MaxRetryAge
	if maxRetryAge <= 0 {
		maxRetryAge = c.cfg.MaxRetryAge
	}
	tooOldBefore := now.Add(-maxRetryAge)

	released, failed, err := c.store.ReleaseStaleLocks(ctx, now.Add(-c.cfg.LockStaleAfter), tooOldBefore, now)
	if err != nil {
		c.logger.Error("failed to release stale locks",
			slog.String("worker_id", req.WorkerID),
			slog.String("error", err.Error()))
	} else if released+len(failed) > 0 {
		c.logger.Warn("released stale task locks",
			slog.Int("released", released),
			slog.Int("failed", len(failed)))
	}
	c.report(ctx, failed)

	retried, terminated, err := c.store.RecoverStuckRunning(ctx, now.Add(-c.cfg.RunningStuckAfter), tooOldBefore, now)
	if err != nil {
		c.logger.Error("failed to recover stuck tasks",
			slog.String("worker_id", req.WorkerID),
			slog.String("error", err.Error()))
	} else if retried+len(terminated) > 0 {
		c.logger.Warn("recovered stuck running tasks",
			slog.Int("retried", retried),
			slog.Int("terminated", len(terminated)))
	}
	c.report(ctx, terminated)

	t, err := c.store.ClaimNext(ctx, store.ClaimParams{
		WorkerID:   req.WorkerID,
		TenantID:   req.TenantID,
		QueueClass: req.QueueClass,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("task claimed",
		slog.Int64("task_id", t.ID),
		slog.String("tenant_id", t.TenantID),
		slog.String("worker_id", req.WorkerID))
	return t, nil
}

// report surfaces tasks that maintenance moved to a terminal state.
func (c *Claimer) report(ctx context.Context, tasks []*domain.Task) {
	for _, t := range tasks {
		log := c.logger.With(slog.Int64("task_id", t.ID), slog.String("tenant_id", t.TenantID))
		if t.Status == domain.TaskStatusFailed {
			log.Error("task failed during recovery", slog.String("reason", t.Error))
		}
		if c.delivery != nil {
			if err := c.delivery.Deliver(ctx, t); err != nil {
				log.Error("failed to deliver task outcome", slog.String("error", err.Error()))
			}
		}
		if c.jobs != nil && t.RecurringJobID != nil && t.Status == domain.TaskStatusFailed {
			if err := c.jobs.RecordOutcome(ctx, *t.RecurringJobID, false); err != nil {
				log.Error("failed to record recurring job outcome",
					slog.Int64("job_id", *t.RecurringJobID),
					slog.String("error", err.Error()))
			}
		}
	}
}
