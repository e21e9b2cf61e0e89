package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// TaskStore implements store.TaskStore in memory.
type TaskStore struct {
	mu     sync.Mutex
	tasks  map[int64]*domain.Task
	nextID int64
	opts   options
}

var _ store.TaskStore = (*TaskStore)(nil)

type taskSnapshot struct {
	NextID int64          `json:"next_id"`
	Tasks  []*domain.Task `json:"tasks"`
}

// NewTaskStore creates an empty TaskStore, restoring the snapshot file if configured.
func NewTaskStore(opts ...Option) (*TaskStore, error) {
	s := &TaskStore{
		tasks:  make(map[int64]*domain.Task),
		nextID: 1,
		opts:   buildOptions(opts),
	}
	if s.opts.snapshotPath == "" {
		return s, nil
	}

	var snap taskSnapshot
	if err := readSnapshot(s.opts.snapshotPath, &snap); err != nil {
		return nil, err
	}
	s.Seed(snap.Tasks...)
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return s, nil
}

// Seed inserts tasks as-is, assigning IDs to those without one. It is
// used to restore snapshots and to build fixtures with arbitrary timestamps.
func (s *TaskStore) Seed(tasks ...*domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		c := t.Clone()
		if c.ID == 0 {
			c.ID = s.nextID
		}
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
		t.ID = c.ID
		s.tasks[c.ID] = c
	}
	s.persistLocked()
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error) {
	t, err := domain.NewTask(spec, 0, s.opts.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID
	s.nextID++
	s.tasks[t.ID] = t
	s.persistLocked()
	return t.Clone(), nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(ctx context.Context, id int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// List implements store.TaskStore.
func (s *TaskStore) List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.TenantID != "" && t.TenantID != filter.TenantID {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus implements store.TaskStore.
func (s *TaskStore) UpdateStatus(ctx context.Context, id int64, update store.StatusUpdate, now time.Time) error {
	if !update.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal status", store.ErrInvalidTransition, update.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return fmt.Errorf("%w: task %d is already %s", store.ErrInvalidTransition, id, t.Status)
	}
	if update.Owner != "" && !heldBy(t, update.Owner) {
		return store.ErrNotOwner
	}

	t.Status = update.Status
	t.Result = update.Result
	t.ActionsLog = update.ActionsLog
	t.Error = update.Error
	finishLocked(t, now)
	s.persistLocked()
	return nil
}

// ScheduleRetry implements store.TaskStore.
func (s *TaskStore) ScheduleRetry(
	ctx context.Context,
	id int64,
	owner, errMsg string,
	delay time.Duration,
	now time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if !t.Status.IsLocked() {
		return fmt.Errorf("%w: cannot retry %s task %d", store.ErrInvalidTransition, t.Status, id)
	}
	if owner != "" && !heldBy(t, owner) {
		return store.ErrNotOwner
	}

	at := now.Add(delay)
	t.AttemptCount++
	t.Error = errMsg
	t.ScheduledFor = &at
	releaseLocked(t, now)
	s.persistLocked()
	return nil
}

// RequestConfirmation implements store.TaskStore.
func (s *TaskStore) RequestConfirmation(
	ctx context.Context,
	id int64,
	owner, prompt, result string,
	now time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if !t.Status.IsLocked() {
		return fmt.Errorf("%w: cannot gate %s task %d", store.ErrInvalidTransition, t.Status, id)
	}
	if owner != "" && !heldBy(t, owner) {
		return store.ErrNotOwner
	}

	if t.HasConversation() {
		for _, other := range s.tasks {
			if other.ID == t.ID || other.Status != domain.TaskStatusPendingConfirmation {
				continue
			}
			if other.TenantID == t.TenantID && other.HasConversation() && *other.ConversationRef == *t.ConversationRef {
				other.Status = domain.TaskStatusCancelled
				other.Error = store.ReasonSuperseded
				finishLocked(other, now)
			}
		}
	}

	t.Status = domain.TaskStatusPendingConfirmation
	t.ConfirmationPrompt = prompt
	t.Result = result
	t.ConfirmationRequestedAt = &now
	t.LockedBy = nil
	t.LockedAt = nil
	t.HeartbeatAt = nil
	t.UpdatedAt = now
	s.persistLocked()
	return nil
}

// Confirm implements store.TaskStore.
func (s *TaskStore) Confirm(ctx context.Context, id int64, now time.Time) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TaskStatusPendingConfirmation {
		return nil, fmt.Errorf("%w: task %d is %s", store.ErrInvalidTransition, id, t.Status)
	}

	t.Status = domain.TaskStatusPending
	t.ConfirmedAt = &now
	t.ScheduledFor = nil
	t.UpdatedAt = now
	s.persistLocked()
	return t.Clone(), nil
}

// Cancel implements store.TaskStore.
func (s *TaskStore) Cancel(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookupLocked(id)
	if err != nil {
		return false, err
	}
	if t.Status.IsTerminal() {
		return false, fmt.Errorf("%w: task %d is already %s", store.ErrInvalidTransition, id, t.Status)
	}

	if t.Status == domain.TaskStatusRunning {
		t.CancelRequested = true
		t.UpdatedAt = now
		s.persistLocked()
		return false, nil
	}

	t.Status = domain.TaskStatusCancelled
	t.Error = reason
	finishLocked(t, now)
	s.persistLocked()
	return true, nil
}

// MarkRunning implements store.TaskStore.
func (s *TaskStore) MarkRunning(ctx context.Context, id int64, owner string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if t.Status != domain.TaskStatusLocked || !heldBy(t, owner) {
		return store.ErrNotOwner
	}

	t.Status = domain.TaskStatusRunning
	t.StartedAt = &now
	t.HeartbeatAt = &now
	t.UpdatedAt = now
	s.persistLocked()
	return nil
}

// Heartbeat implements store.TaskStore.
func (s *TaskStore) Heartbeat(ctx context.Context, id int64, owner string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookupLocked(id)
	if err != nil {
		return false, err
	}
	if t.Status != domain.TaskStatusRunning || !heldBy(t, owner) {
		return false, store.ErrNotOwner
	}

	t.HeartbeatAt = &now
	t.UpdatedAt = now
	s.persistLocked()
	return t.CancelRequested, nil
}

// ClaimNext implements store.TaskStore.
func (s *TaskStore) ClaimNext(ctx context.Context, params store.ClaimParams) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Task
	for _, t := range s.tasks {
		if !t.IsEligible(params.Now) {
			continue
		}
		if params.TenantID != "" && t.TenantID != params.TenantID {
			continue
		}
		if params.QueueClass != "" && t.QueueClass != params.QueueClass {
			continue
		}
		if best == nil || claimsBefore(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, store.ErrNoEligibleTask
	}

	owner := params.WorkerID
	now := params.Now
	best.Status = domain.TaskStatusLocked
	best.LockedBy = &owner
	best.LockedAt = &now
	best.UpdatedAt = now
	s.persistLocked()
	return best.Clone(), nil
}

// ReleaseStaleLocks implements store.TaskStore.
func (s *TaskStore) ReleaseStaleLocks(
	ctx context.Context,
	staleBefore, tooOldBefore, now time.Time,
) (int, []*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	failed := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusLocked || t.LockedAt == nil || !t.LockedAt.Before(staleBefore) {
			continue
		}
		if t.CreatedAt.Before(tooOldBefore) {
			t.Status = domain.TaskStatusFailed
			t.Error = store.ReasonTooOldToRetry
			finishLocked(t, now)
			failed = append(failed, t.Clone())
			continue
		}
		releaseLocked(t, now)
		released++
	}
	if released+len(failed) > 0 {
		s.persistLocked()
	}
	sortByID(failed)
	return released, failed, nil
}

// RecoverStuckRunning implements store.TaskStore.
func (s *TaskStore) RecoverStuckRunning(
	ctx context.Context,
	stuckBefore, tooOldBefore, now time.Time,
) (int, []*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	retried := 0
	terminated := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusRunning || !t.LastSeenAlive().Before(stuckBefore) {
			continue
		}
		switch {
		case t.CancelRequested:
			t.Status = domain.TaskStatusCancelled
			finishLocked(t, now)
			terminated = append(terminated, t.Clone())
		case !t.CreatedAt.Before(tooOldBefore) && t.AttemptCount+1 < t.MaxAttempts:
			t.AttemptCount++
			releaseLocked(t, now)
			retried++
		default:
			t.Status = domain.TaskStatusFailed
			t.Error = store.ReasonStuckExhausted
			finishLocked(t, now)
			terminated = append(terminated, t.Clone())
		}
	}
	if retried+len(terminated) > 0 {
		s.persistLocked()
	}
	sortByID(terminated)
	return retried, terminated, nil
}

// Backlog implements store.TaskStore.
func (s *TaskStore) Backlog(ctx context.Context, now time.Time) ([]store.BacklogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		tenant string
		class  domain.QueueClass
	}
	counts := make(map[key]int)
	for _, t := range s.tasks {
		if t.IsEligible(now) {
			counts[key{t.TenantID, t.QueueClass}]++
		}
	}

	out := make([]store.BacklogEntry, 0, len(counts))
	for k, n := range counts {
		out = append(out, store.BacklogEntry{TenantID: k.tenant, QueueClass: k.class, Pending: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].QueueClass < out[j].QueueClass
	})
	return out, nil
}

// FindPendingConfirmation implements store.TaskStore.
func (s *TaskStore) FindPendingConfirmation(
	ctx context.Context,
	tenantID, conversationRef string,
) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *domain.Task
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusPendingConfirmation || t.TenantID != tenantID || !t.HasConversation() {
			continue
		}
		if *t.ConversationRef != conversationRef {
			continue
		}
		if found == nil || t.ID > found.ID {
			found = t
		}
	}
	if found == nil {
		return nil, store.ErrTaskNotFound
	}
	return found.Clone(), nil
}

// ListPendingOlderThan implements store.TaskStore.
func (s *TaskStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusPending && t.EligibleSince().Before(cutoff)
	}, nil), nil
}

// FailPendingOlderThan implements store.TaskStore.
func (s *TaskStore) FailPendingOlderThan(
	ctx context.Context,
	cutoff time.Time,
	reason string,
	now time.Time,
) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.collectLocked(func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusPending && t.EligibleSince().Before(cutoff)
	}, func(t *domain.Task) {
		t.Status = domain.TaskStatusFailed
		t.Error = reason
		finishLocked(t, now)
	})
	if len(out) > 0 {
		s.persistLocked()
	}
	return out, nil
}

// ExpireConfirmations implements store.TaskStore.
func (s *TaskStore) ExpireConfirmations(
	ctx context.Context,
	cutoff time.Time,
	reason string,
	now time.Time,
) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.collectLocked(func(t *domain.Task) bool {
		return t.Status == domain.TaskStatusPendingConfirmation &&
			t.ConfirmationRequestedAt != nil && t.ConfirmationRequestedAt.Before(cutoff)
	}, func(t *domain.Task) {
		t.Status = domain.TaskStatusCancelled
		t.Error = reason
		finishLocked(t, now)
	})
	if len(out) > 0 {
		s.persistLocked()
	}
	return out, nil
}

// PurgeTerminal implements store.TaskStore.
func (s *TaskStore) PurgeTerminal(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, t := range s.tasks {
		if t.Status.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(before) {
			delete(s.tasks, id)
			purged++
		}
	}
	if purged > 0 {
		s.persistLocked()
	}
	return purged, nil
}

func (s *TaskStore) lookupLocked(id int64) (*domain.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrTaskNotFound, id)
	}
	return t, nil
}

// collectLocked returns clones of matching tasks in ID order, applying mutate
// to each stored task first when it is non-nil.
func (s *TaskStore) collectLocked(match func(*domain.Task) bool, mutate func(*domain.Task)) []*domain.Task {
	out := make([]*domain.Task, 0)
	for _, t := range s.tasks {
		if !match(t) {
			continue
		}
		if mutate != nil {
			mutate(t)
		}
		out = append(out, t.Clone())
	}
	sortByID(out)
	return out
}

func sortByID(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}

func (s *TaskStore) persistLocked() {
	if s.opts.snapshotPath == "" {
		return
	}
	snap := taskSnapshot{NextID: s.nextID, Tasks: make([]*domain.Task, 0, len(s.tasks))}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })
	if err := writeSnapshot(s.opts.snapshotPath, snap); err != nil {
		s.opts.logger.Error("failed to write task snapshot",
			slog.String("path", s.opts.snapshotPath),
			slog.String("error", err.Error()))
	}
}

// claimsBefore orders candidates by priority desc, creation asc, then id asc.
func claimsBefore(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func heldBy(t *domain.Task, owner string) bool {
	return t.Status.IsLocked() && t.LockedBy != nil && *t.LockedBy == owner
}

// releaseLocked returns t to Pending without an owner.
func releaseLocked(t *domain.Task, now time.Time) {
	t.Status = domain.TaskStatusPending
	t.LockedBy = nil
	t.LockedAt = nil
	t.HeartbeatAt = nil
	t.StartedAt = nil
	t.CancelRequested = false
	t.UpdatedAt = now
}

// finishLocked stamps a terminal transition and drops the lock.
func finishLocked(t *domain.Task, now time.Time) {
	t.LockedBy = nil
	t.LockedAt = nil
	t.HeartbeatAt = nil
	t.CompletedAt = &now
	t.UpdatedAt = now
}
