package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/platform/memory"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testClock is a manually advanced clock safe for concurrent use.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testClaimConfig() config.ClaimConfig {
	return config.ClaimConfig{
		LockStaleAfter:    30 * time.Minute,
		RunningStuckAfter: 15 * time.Minute,
		MaxRetryAge:       60 * time.Minute,
		HeartbeatInterval: 10 * time.Millisecond,
	}
}

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		InstanceCap:         5,
		TenantForegroundCap: 1,
		TenantBackgroundCap: 1,
		IdleTimeout:         20 * time.Millisecond,
		DispatchInterval:    10 * time.Millisecond,
		ShutdownTimeout:     2 * time.Second,
	}
}

func newMemoryStore(t *testing.T, clock *testClock) *memory.TaskStore {
	t.Helper()
	s, err := memory.NewTaskStore(memory.WithClock(clock.Now))
	require.NoError(t, err)
	return s
}

func chatSpec(tenant, prompt string) domain.CreateTaskSpec {
	return domain.CreateTaskSpec{TenantID: tenant, Prompt: prompt, SourceKind: domain.SourceChat}
}

func ptr[T any](v T) *T { return &v }

// recordingDelivery captures deliveries and notifications.
type recordingDelivery struct {
	mu        sync.Mutex
	replies   bool
	delivered []*domain.Task
	notes     []string
}

func (d *recordingDelivery) Deliver(ctx context.Context, t *domain.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, t.Clone())
	return nil
}

func (d *recordingDelivery) Notify(ctx context.Context, t *domain.Task, message string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notes = append(d.notes, message)
	return nil
}

func (d *recordingDelivery) SupportsReplies(t *domain.Task) bool {
	return d.replies && t.HasConversation()
}

func (d *recordingDelivery) statuses() []domain.TaskStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.TaskStatus, len(d.delivered))
	for i, t := range d.delivered {
		out[i] = t.Status
	}
	return out
}

func (d *recordingDelivery) notifications() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.notes...)
}

// recordingJobs captures recurring job outcomes.
type recordingJobs struct {
	mu       sync.Mutex
	outcomes map[int64][]bool
}

func (r *recordingJobs) RecordOutcome(ctx context.Context, jobID int64, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[int64][]bool)
	}
	r.outcomes[jobID] = append(r.outcomes[jobID], success)
	return nil
}

func (r *recordingJobs) get(jobID int64) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.outcomes[jobID]...)
}

type poolFixture struct {
	store    *memory.TaskStore
	pool     *Pool
	gate     *Gate
	delivery *recordingDelivery
	jobs     *recordingJobs
	service  *Service
}

func newPoolFixture(t *testing.T, clock *testClock, cfg config.PoolConfig, exec Executor) *poolFixture {
	t.Helper()
	logger := setupTestLogger()
	s := newMemoryStore(t, clock)
	delivery := &recordingDelivery{replies: true}
	jobs := &recordingJobs{}

	detector, err := NewPatternDetector(nil)
	require.NoError(t, err)
	gate := NewGate(s, detector, delivery, logger)
	gate.now = clock.Now

	pool, err := NewPool(cfg, testClaimConfig(), PoolDeps{
		Store:    s,
		Claimer:  NewClaimer(s, testClaimConfig(), logger, WithClaimClock(clock.Now), WithClaimReporting(delivery, jobs)),
		Executor: exec,
		Gate:     gate,
		Delivery: delivery,
		Jobs:     jobs,
		Logger:   logger,
		Clock:    clock.Now,
	})
	require.NoError(t, err)
	gate.SetNotifier(pool)

	svc := NewService(s, pool, 4, logger)
	svc.now = clock.Now

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return &poolFixture{store: s, pool: pool, gate: gate, delivery: delivery, jobs: jobs, service: svc}
}

func (f *poolFixture) status(t *testing.T, id int64) domain.TaskStatus {
	t.Helper()
	got, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return got.Status
}
