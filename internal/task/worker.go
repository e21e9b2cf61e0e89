package task

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/platform/logger"
	"github.com/phrazzld/taskcore/internal/store"
)

// worker occupies one slot and processes tasks for a single (tenant, class).
type worker struct {
	pool   *Pool
	key    slotKey
	id     string
	logger *slog.Logger

	// claiming is set from spawn until each claim attempt returns.
	claiming atomic.Bool
}

func (w *worker) run(ctx context.Context) {
	p := w.pool
	defer p.workers.Done()
	defer p.retire(w)

	ctx = logger.WithLogger(ctx, w.logger)
	w.logger.Debug("worker started")

	for {
		if p.stopping() {
			w.logger.Debug("worker stopping")
			return
		}

		t, err := w.claim(ctx)
		if errors.Is(err, store.ErrNoEligibleTask) {
			if !w.idle() {
				return
			}
			t, err = w.claim(ctx)
			if errors.Is(err, store.ErrNoEligibleTask) {
				w.logger.Debug("worker idle, retiring")
				return
			}
		}
		if err != nil {
			w.logger.Error("failed to claim task", slog.String("error", err.Error()))
			if !w.idle() {
				return
			}
			continue
		}

		w.process(ctx, t)
		p.Notify()
	}
}

func (w *worker) claim(ctx context.Context) (*domain.Task, error) {
	w.claiming.Store(true)
	defer w.claiming.Store(false)
	return w.pool.claimer.Claim(ctx, ClaimRequest{
		WorkerID:   w.id,
		TenantID:   w.key.tenantID,
		QueueClass: w.key.class,
	})
}

// idle waits for the idle timeout and reports false if the pool stopped meanwhile.
func (w *worker) idle() bool {
	timer := time.NewTimer(w.pool.cfg.IdleTimeout)
	defer timer.Stop()
	select {
	case <-w.pool.stop:
		return false
	case <-timer.C:
		return true
	}
}

// process runs one claimed task to its next persisted state.
func (w *worker) process(ctx context.Context, t *domain.Task) {
	p := w.pool
	log := w.logger.With(slog.Int64("task_id", t.ID))

	now := p.now().UTC()
	if err := p.store.MarkRunning(ctx, t.ID, w.id, now); err != nil {
		log.Error("failed to mark task running", slog.String("error", err.Error()))
		return
	}
	t.Status = domain.TaskStatusRunning
	t.StartedAt = &now
	t.HeartbeatAt = &now

	execCtx, cancel := context.WithCancel(logger.WithLogger(ctx, log))
	var cancelRequested, lockLost atomic.Bool
	hbDone := make(chan struct{})
	go w.heartbeat(execCtx, t.ID, cancel, &cancelRequested, &lockLost, hbDone)

	log.Info("executing task", slog.Int("attempt", t.AttemptCount+1))
	started := time.Now()
	res, execErr := w.execute(execCtx, Execution{Task: t.Clone(), cancelRequested: cancelRequested.Load})
	cancel()
	<-hbDone

	if lockLost.Load() {
		log.Warn("task lock lost during execution, discarding outcome")
		return
	}
	w.finish(ctx, log, t, res, execErr, cancelRequested.Load())
	log.Info("task attempt finished", slog.Duration("duration", time.Since(started)))
}

// execute calls the executor, converting a panic into a failure.
func (w *worker) execute(ctx context.Context, exec Execution) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("executor panicked", slog.Any("panic", r))
			res, err = Result{}, errors.New("task execution panicked")
		}
	}()
	return w.pool.executor.Execute(ctx, exec)
}

// heartbeat refreshes the task's liveness until ctx ends. Observing a cancel
// request or a lost lock cancels the execution context.
func (w *worker) heartbeat(
	ctx context.Context,
	taskID int64,
	cancel context.CancelFunc,
	cancelRequested, lockLost *atomic.Bool,
	done chan<- struct{},
) {
	defer close(done)
	ticker := time.NewTicker(w.pool.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		requested, err := w.pool.store.Heartbeat(context.WithoutCancel(ctx), taskID, w.id, w.pool.now().UTC())
		switch {
		case errors.Is(err, store.ErrNotOwner), errors.Is(err, store.ErrNotFound):
			lockLost.Store(true)
			cancel()
			return
		case err != nil:
			w.logger.Warn("failed to record heartbeat",
				slog.Int64("task_id", taskID),
				slog.String("error", err.Error()))
		case requested:
			w.logger.Info("cancellation requested", slog.Int64("task_id", taskID))
			cancelRequested.Store(true)
			cancel()
			return
		}
	}
}

// finish persists the outcome of one attempt and reports it.
func (w *worker) finish(
	ctx context.Context,
	log *slog.Logger,
	t *domain.Task,
	res Result,
	execErr error,
	cancelRequested bool,
) {
	p := w.pool
	now := p.now().UTC()

	switch {
	case cancelRequested || errors.Is(execErr, ErrCancelled):
		err := p.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{
			Status:     domain.TaskStatusCancelled,
			Result:     res.Text,
			ActionsLog: res.ActionsLog,
			Error:      "cancelled",
			Owner:      w.id,
		}, now)
		if err != nil {
			log.Error("failed to record cancellation", slog.String("error", err.Error()))
			return
		}
		log.Info("task cancelled")
		w.deliver(ctx, log, t.ID)

	case execErr == nil && res.Success:
		if p.gate != nil && p.gate.ShouldRequestConfirmation(t, res) {
			if err := p.store.RequestConfirmation(ctx, t.ID, w.id, res.Text, res.Text, now); err != nil {
				log.Error("failed to request confirmation", slog.String("error", err.Error()))
				return
			}
			log.Info("task awaiting confirmation")
			w.deliver(ctx, log, t.ID)
			return
		}

		err := p.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{
			Status:     domain.TaskStatusCompleted,
			Result:     res.Text,
			ActionsLog: res.ActionsLog,
			Owner:      w.id,
		}, now)
		if err != nil {
			log.Error("failed to record completion", slog.String("error", err.Error()))
			return
		}
		log.Info("task completed")
		w.deliver(ctx, log, t.ID)
		w.recordJobOutcome(ctx, log, t, true)

	default:
		msg := "execution reported failure"
		if execErr != nil {
			msg = execErr.Error()
		}

		if ShouldRetry(t, execErr) {
			delay := BackoffDelay(t.AttemptCount)
			if err := p.store.ScheduleRetry(ctx, t.ID, w.id, msg, delay, now); err != nil {
				log.Error("failed to schedule retry", slog.String("error", err.Error()))
				return
			}
			log.Warn("task attempt failed, retry scheduled",
				slog.String("error", msg),
				slog.Duration("delay", delay),
				slog.Int("attempt", t.AttemptCount+1),
				slog.Int("max_attempts", t.MaxAttempts))
			return
		}

		err := p.store.UpdateStatus(ctx, t.ID, store.StatusUpdate{
			Status:     domain.TaskStatusFailed,
			Result:     res.Text,
			ActionsLog: res.ActionsLog,
			Error:      msg,
			Owner:      w.id,
		}, now)
		if err != nil {
			log.Error("failed to record failure", slog.String("error", err.Error()))
			return
		}
		log.Error("task failed permanently", slog.String("error", msg))
		w.deliver(ctx, log, t.ID)
		w.recordJobOutcome(ctx, log, t, false)
	}
}

func (w *worker) deliver(ctx context.Context, log *slog.Logger, taskID int64) {
	t, err := w.pool.store.Get(ctx, taskID)
	if err != nil {
		log.Error("failed to reload task for delivery", slog.String("error", err.Error()))
		return
	}
	if err := w.pool.delivery.Deliver(ctx, t); err != nil {
		log.Error("failed to deliver task outcome", slog.String("error", err.Error()))
	}
}

func (w *worker) recordJobOutcome(ctx context.Context, log *slog.Logger, t *domain.Task, success bool) {
	if w.pool.jobs == nil || t.RecurringJobID == nil {
		return
	}
	if err := w.pool.jobs.RecordOutcome(ctx, *t.RecurringJobID, success); err != nil {
		log.Error("failed to record recurring job outcome",
			slog.Int64("job_id", *t.RecurringJobID),
			slog.String("error", err.Error()))
	}
}
