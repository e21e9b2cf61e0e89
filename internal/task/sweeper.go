package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// Reasons recorded by the health sweep.
const (
	ReasonAncient             = "pending too long without being picked up"
	ReasonConfirmationExpired = "confirmation timed out"
)

// SweepReport counts what one sweep did.
type SweepReport struct {
	Stale   int
	Failed  int
	Expired int
	Purged  int
}

// Sweeper periodically checks the store for tasks that stalled outside the claim path.
type Sweeper struct {
	store    store.TaskStore
	delivery Delivery
	jobs     JobOutcomeRecorder
	cfg      config.SweepConfig
	now      func() time.Time
	logger   *slog.Logger

	lastPurge time.Time
}

// NewSweeper creates a Sweeper. jobs may be nil.
func NewSweeper(
	s store.TaskStore,
	delivery Delivery,
	jobs JobOutcomeRecorder,
	cfg config.SweepConfig,
	logger *slog.Logger,
) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if delivery == nil {
		delivery = NewLogDelivery(logger, false)
	}
	return &Sweeper{
		store:    s,
		delivery: delivery,
		jobs:     jobs,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// SetClock replaces time.Now.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps every configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Each step is independent; a failing step is logged
// and the rest still run.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	now := s.now().UTC()

	stale, err := s.store.ListPendingOlderThan(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		s.logger.Error("failed to list stale tasks", slog.String("error", err.Error()))
	}
	ancientCutoff := now.Add(-s.cfg.AncientAfter)
	for _, t := range stale {
		if t.EligibleSince().Before(ancientCutoff) {
			continue
		}
		report.Stale++
		s.logger.Warn("task pending longer than expected",
			slog.Int64("task_id", t.ID),
			slog.String("tenant_id", t.TenantID),
			slog.Duration("waiting", now.Sub(t.EligibleSince())))
	}

	failed, err := s.store.FailPendingOlderThan(ctx, ancientCutoff, ReasonAncient, now)
	if err != nil {
		s.logger.Error("failed to fail ancient tasks", slog.String("error", err.Error()))
	}
	for _, t := range failed {
		report.Failed++
		s.logger.Error("ancient task failed",
			slog.Int64("task_id", t.ID),
			slog.String("tenant_id", t.TenantID))
		s.notify(ctx, t, UserFacingError(t))
		if s.jobs != nil && t.RecurringJobID != nil {
			if err := s.jobs.RecordOutcome(ctx, *t.RecurringJobID, false); err != nil {
				s.logger.Error("failed to record recurring job outcome",
					slog.Int64("job_id", *t.RecurringJobID),
					slog.String("error", err.Error()))
			}
		}
	}

	expired, err := s.store.ExpireConfirmations(ctx, now.Add(-s.cfg.ConfirmationTimeout), ReasonConfirmationExpired, now)
	if err != nil {
		s.logger.Error("failed to expire confirmations", slog.String("error", err.Error()))
	}
	for _, t := range expired {
		report.Expired++
		s.logger.Info("confirmation expired",
			slog.Int64("task_id", t.ID),
			slog.String("tenant_id", t.TenantID))
		s.notify(ctx, t, "No reply was received in time, so the pending action was cancelled.")
	}

	if s.lastPurge.IsZero() || now.Sub(s.lastPurge) >= s.cfg.RetentionInterval {
		purged, err := s.store.PurgeTerminal(ctx, now.Add(-s.cfg.RetentionHorizon))
		if err != nil {
			s.logger.Error("failed to purge terminal tasks", slog.String("error", err.Error()))
		} else {
			s.lastPurge = now
			report.Purged = purged
			if purged > 0 {
				s.logger.Info("purged terminal tasks", slog.Int("purged", purged))
			}
		}
	}

	return report
}

func (s *Sweeper) notify(ctx context.Context, t *domain.Task, message string) {
	if err := s.delivery.Notify(ctx, t, message); err != nil {
		s.logger.Error("failed to notify requester",
			slog.Int64("task_id", t.ID),
			slog.String("error", err.Error()))
	}
}
