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

// JobStore implements store.RecurringJobStore in memory.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[int64]*domain.RecurringJob
	nextID int64
	opts   options
}

var _ store.RecurringJobStore = (*JobStore)(nil)

type jobSnapshot struct {
	NextID int64                  `json:"next_id"`
	Jobs   []*domain.RecurringJob `json:"jobs"`
}

// NewJobStore creates an empty JobStore, restoring the snapshot file if configured.
func NewJobStore(opts ...Option) (*JobStore, error) {
	s := &JobStore{
		jobs:   make(map[int64]*domain.RecurringJob),
		nextID: 1,
		opts:   buildOptions(opts),
	}
	if s.opts.snapshotPath == "" {
		return s, nil
	}

	var snap jobSnapshot
	if err := readSnapshot(s.opts.snapshotPath, &snap); err != nil {
		return nil, err
	}
	s.Seed(snap.Jobs...)
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return s, nil
}

// Seed inserts definitions as-is, assigning IDs to those without one.
func (s *JobStore) Seed(jobs ...*domain.RecurringJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		c := j.Clone()
		if c.ID == 0 {
			c.ID = s.nextID
		}
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
		j.ID = c.ID
		s.jobs[c.ID] = c
	}
	s.persistLocked()
}

// ListEnabled implements store.RecurringJobStore.
func (s *JobStore) ListEnabled(ctx context.Context) ([]*domain.RecurringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(func(j *domain.RecurringJob) bool { return j.Enabled }), nil
}

// List implements store.RecurringJobStore.
func (s *JobStore) List(ctx context.Context, tenantID string) ([]*domain.RecurringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.collectLocked(func(j *domain.RecurringJob) bool { return j.TenantID == tenantID })
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

// Get implements store.RecurringJobStore.
func (s *JobStore) Get(ctx context.Context, id int64) (*domain.RecurringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return j.Clone(), nil
}

// MarkRun implements store.RecurringJobStore.
func (s *JobStore) MarkRun(ctx context.Context, id int64, prev *time.Time, runAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: id %d", store.ErrJobNotFound, id)
	}

	switch {
	case prev == nil && j.LastRunAt != nil:
		return false, nil
	case prev != nil && (j.LastRunAt == nil || !j.LastRunAt.Equal(*prev)):
		return false, nil
	}

	j.LastRunAt = &runAt
	j.UpdatedAt = runAt
	s.persistLocked()
	return true, nil
}

// RecordOutcome implements store.RecurringJobStore.
func (s *JobStore) RecordOutcome(
	ctx context.Context,
	id int64,
	success bool,
	failureCap int,
	now time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: id %d", store.ErrJobNotFound, id)
	}

	disabled := false
	if success {
		j.ConsecutiveFailures = 0
	} else {
		j.ConsecutiveFailures++
		if failureCap > 0 && j.ConsecutiveFailures > failureCap && j.Enabled {
			j.Enabled = false
			j.DisabledReason = domain.DisabledByFailureCap
			disabled = true
		}
	}
	j.UpdatedAt = now
	s.persistLocked()
	return disabled, nil
}

// Sync implements store.RecurringJobStore.
func (s *JobStore) Sync(ctx context.Context, tenantID string, defs []domain.RecurringJob, now time.Time) error {
	seen := make(map[string]struct{}, len(defs))
	for i := range defs {
		def := defs[i]
		def.TenantID = tenantID
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %w", store.ErrInvalidEntity, def.Name, err)
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("%w: %s", store.ErrJobNameExists, def.Name)
		}
		seen[def.Name] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]*domain.RecurringJob)
	for id, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if _, keep := seen[j.Name]; !keep {
			delete(s.jobs, id)
			continue
		}
		existing[j.Name] = j
	}

	for i := range defs {
		def := defs[i]
		if def.Kind == "" {
			def.Kind = domain.JobKindJob
		}
		if j, ok := existing[def.Name]; ok {
			forcedOff := !j.Enabled && j.DisabledReason != ""
			j.Kind = def.Kind
			j.Prompt = def.Prompt
			j.Command = def.Command
			j.CronExpression = def.CronExpression
			j.TimeZone = def.TimeZone
			j.ConversationRef = def.Clone().ConversationRef
			j.Priority = def.Priority
			j.Enabled = def.Enabled && !forcedOff
			j.UpdatedAt = now
			continue
		}

		j := def.Clone()
		j.ID = s.nextID
		s.nextID++
		j.TenantID = tenantID
		j.LastRunAt = nil
		j.ConsecutiveFailures = 0
		j.DisabledReason = ""
		j.CreatedAt = now
		j.UpdatedAt = now
		s.jobs[j.ID] = j
	}
	s.persistLocked()
	return nil
}

// SetEnabled implements store.RecurringJobStore.
func (s *JobStore) SetEnabled(ctx context.Context, id int64, enabled bool, reason string, now time.Time) error {
	if err := store.CheckDisableReason(enabled, reason); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: id %d", store.ErrJobNotFound, id)
	}

	j.Enabled = enabled
	if enabled {
		j.DisabledReason = ""
		j.ConsecutiveFailures = 0
	} else {
		j.DisabledReason = reason
	}
	j.UpdatedAt = now
	s.persistLocked()
	return nil
}

func (s *JobStore) collectLocked(match func(*domain.RecurringJob) bool) []*domain.RecurringJob {
	out := make([]*domain.RecurringJob, 0)
	for _, j := range s.jobs {
		if match(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (s *JobStore) persistLocked() {
	if s.opts.snapshotPath == "" {
		return
	}
	snap := jobSnapshot{NextID: s.nextID, Jobs: s.collectLocked(func(*domain.RecurringJob) bool { return true })}
	if err := writeSnapshot(s.opts.snapshotPath, snap); err != nil {
		s.opts.logger.Error("failed to write recurring job snapshot",
			slog.String("path", s.opts.snapshotPath),
			slog.String("error", err.Error()))
	}
}
