package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/platform/memory"
	"github.com/phrazzld/taskcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingCreator collects created task specs.
type recordingCreator struct {
	mu    sync.Mutex
	specs []domain.CreateTaskSpec
	err   error
}

func (r *recordingCreator) CreateTask(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.specs = append(r.specs, spec)
	return &domain.Task{ID: int64(len(r.specs)), TenantID: spec.TenantID}, nil
}

func (r *recordingCreator) created() []domain.CreateTaskSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CreateTaskSpec(nil), r.specs...)
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testScheduleConfig() config.ScheduleConfig {
	return config.ScheduleConfig{Interval: time.Minute, FailureCap: 2}
}

func newTestEvaluator(t *testing.T, c *clock, creator TaskCreator) (*Evaluator, *memory.JobStore) {
	t.Helper()
	jobs, err := memory.NewJobStore(memory.WithClock(c.Now))
	require.NoError(t, err)
	return NewEvaluator(jobs, creator, testScheduleConfig(), testLogger(), WithClock(c.Now)), jobs
}

func dailyJob(createdAt time.Time) *domain.RecurringJob {
	return &domain.RecurringJob{
		TenantID:       "alice",
		Name:           "briefing",
		Kind:           domain.JobKindJob,
		Prompt:         "Summarize my calendar",
		CronExpression: "0 9 * * *",
		Priority:       3,
		Enabled:        true,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestIsDue(t *testing.T) {
	t.Parallel()
	e, _ := newTestEvaluator(t, &clock{now: at("2026-05-04T09:00:00Z")}, &recordingCreator{})

	created := at("2026-05-04T09:00:00Z")
	lastRun := at("2026-05-03T09:00:00Z")

	tests := []struct {
		name string
		job  func() *domain.RecurringJob
		now  time.Time
		want bool
	}{
		{
			name: "not due at the creation instant",
			job:  func() *domain.RecurringJob { return dailyJob(created) },
			now:  created,
		},
		{
			name: "due at the next matching time",
			job:  func() *domain.RecurringJob { return dailyJob(created) },
			now:  at("2026-05-05T09:00:00Z"),
			want: true,
		},
		{
			name: "due after the last run",
			job: func() *domain.RecurringJob {
				j := dailyJob(at("2026-01-01T00:00:00Z"))
				j.LastRunAt = &lastRun
				return j
			},
			now:  at("2026-05-04T09:00:30Z"),
			want: true,
		},
		{
			name: "just before the next matching time",
			job: func() *domain.RecurringJob {
				j := dailyJob(at("2026-01-01T00:00:00Z"))
				j.LastRunAt = &lastRun
				return j
			},
			now: at("2026-05-04T08:59:59Z"),
		},
		{
			name: "descriptor",
			job: func() *domain.RecurringJob {
				j := dailyJob(at("2026-05-04T08:10:00Z"))
				j.CronExpression = "@hourly"
				return j
			},
			now:  at("2026-05-04T09:00:00Z"),
			want: true,
		},
		{
			name: "tenant time zone",
			job: func() *domain.RecurringJob {
				j := dailyJob(at("2026-05-04T00:00:00Z"))
				j.TimeZone = "Europe/Berlin"
				return j
			},
			now:  at("2026-05-04T07:00:00Z"),
			want: true,
		},
		{
			name: "tenant time zone before local nine",
			job: func() *domain.RecurringJob {
				j := dailyJob(at("2026-05-04T00:00:00Z"))
				j.TimeZone = "Europe/Berlin"
				return j
			},
			now: at("2026-05-04T06:59:00Z"),
		},
		{
			name: "unknown time zone falls back to UTC",
			job: func() *domain.RecurringJob {
				j := dailyJob(at("2026-05-04T00:00:00Z"))
				j.TimeZone = "Mars/Olympus_Mons"
				return j
			},
			now:  at("2026-05-04T09:00:00Z"),
			want: true,
		},
		{
			name: "never run and no creation time uses start of today",
			job:  func() *domain.RecurringJob { return dailyJob(time.Time{}) },
			now:  at("2026-05-04T09:00:00Z"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.IsDue(tt.job(), tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("invalid cron", func(t *testing.T) {
		j := dailyJob(created)
		j.CronExpression = "every tuesday"
		_, err := e.IsDue(j, created)
		assert.Error(t, err)
	})
}

func TestNextRun(t *testing.T) {
	t.Parallel()
	e, _ := newTestEvaluator(t, &clock{now: at("2026-05-04T10:00:00Z")}, &recordingCreator{})
	next, err := e.NextRun(dailyJob(at("2026-05-04T09:00:00Z")))
	require.NoError(t, err)
	assert.True(t, next.Equal(at("2026-05-05T09:00:00Z")), "got %s", next)
}

func TestTickFiresOncePerScheduledTime(t *testing.T) {
	t.Parallel()
	c := &clock{now: at("2026-05-05T09:00:10Z")}
	creator := &recordingCreator{}
	e, jobs := newTestEvaluator(t, c, creator)
	ctx := context.Background()

	job := dailyJob(at("2026-05-04T09:00:00Z"))
	job.ConversationRef = ptr("chat-9")
	jobs.Seed(job)

	fired, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	fired, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, fired, "a repeated tick does not fire again")

	specs := creator.created()
	require.Len(t, specs, 1)
	spec := specs[0]
	assert.Equal(t, "alice", spec.TenantID)
	assert.Equal(t, domain.QueueBackground, spec.QueueClass)
	assert.Equal(t, domain.SourceCron, spec.SourceKind)
	assert.Equal(t, "Summarize my calendar", spec.Prompt)
	require.NotNil(t, spec.RecurringJobID)
	assert.Equal(t, job.ID, *spec.RecurringJobID)
	require.NotNil(t, spec.Priority)
	assert.Equal(t, 3, *spec.Priority)
	require.NotNil(t, spec.ConversationRef)
	assert.Equal(t, "chat-9", *spec.ConversationRef)

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunAt)
	assert.True(t, stored.LastRunAt.Equal(c.Now()))

	c.Set(at("2026-05-06T09:00:00Z"))
	fired, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired, "fires again at the following scheduled time")
}

func TestTickConcurrentEvaluators(t *testing.T) {
	t.Parallel()
	c := &clock{now: at("2026-05-05T09:00:00Z")}
	creator := &recordingCreator{}
	jobs, err := memory.NewJobStore(memory.WithClock(c.Now))
	require.NoError(t, err)
	jobs.Seed(dailyJob(at("2026-05-04T09:00:00Z")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		e := NewEvaluator(jobs, creator, testScheduleConfig(), testLogger(), WithClock(c.Now))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Tick(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, creator.created(), 1)
}

func TestTickDoesNotFireAtCreation(t *testing.T) {
	t.Parallel()
	c := &clock{now: at("2026-05-04T09:00:00Z")}
	creator := &recordingCreator{}
	e, _ := newTestEvaluator(t, c, creator)
	ctx := context.Background()

	require.NoError(t, e.SyncDefinitions(ctx, "alice", []domain.RecurringJob{*dailyJob(time.Time{})}))

	fired, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Empty(t, creator.created())
}

func TestTickCreateFailureCountsAgainstJob(t *testing.T) {
	t.Parallel()
	c := &clock{now: at("2026-05-05T09:00:00Z")}
	creator := &recordingCreator{err: errors.New("store unavailable")}
	e, jobs := newTestEvaluator(t, c, creator)
	ctx := context.Background()

	job := dailyJob(at("2026-05-04T09:00:00Z"))
	jobs.Seed(job)

	fired, err := e.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)

	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ConsecutiveFailures)
	require.NotNil(t, stored.LastRunAt, "the run stays claimed so it is not retried every tick")

	fired, err = e.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)
}

func TestTickSkipsDisabledAndInvalid(t *testing.T) {
	t.Parallel()
	c := &clock{now: at("2026-05-05T09:00:00Z")}
	creator := &recordingCreator{}
	e, jobs := newTestEvaluator(t, c, creator)

	off := dailyJob(at("2026-05-04T09:00:00Z"))
	off.Name = "off"
	off.Enabled = false
	broken := dailyJob(at("2026-05-04T09:00:00Z"))
	broken.Name = "broken"
	broken.CronExpression = "61 * * * *"
	ok := dailyJob(at("2026-05-04T09:00:00Z"))
	ok.Name = "ok"
	jobs.Seed(off, broken, ok)

	fired, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestRecordOutcome(t *testing.T) {
	t.Parallel()
	c := &clock{now: at("2026-05-05T09:00:00Z")}
	e, jobs := newTestEvaluator(t, c, &recordingCreator{})
	ctx := context.Background()

	job := dailyJob(at("2026-05-04T09:00:00Z"))
	jobs.Seed(job)

	require.NoError(t, e.RecordOutcome(ctx, job.ID, false))
	require.NoError(t, e.RecordOutcome(ctx, job.ID, true))
	stored, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.ConsecutiveFailures, "success resets the streak")

	for i := 0; i < 3; i++ {
		require.NoError(t, e.RecordOutcome(ctx, job.ID, false))
	}
	stored, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, domain.DisabledByFailureCap, stored.DisabledReason)
	assert.Equal(t, 3, stored.ConsecutiveFailures)

	assert.NoError(t, e.RecordOutcome(ctx, 404, true), "unknown definitions are ignored")
}

func TestSyncDefinitionsValidates(t *testing.T) {
	t.Parallel()
	e, jobs := newTestEvaluator(t, &clock{now: at("2026-05-04T09:00:00Z")}, &recordingCreator{})
	ctx := context.Background()

	badCron := *dailyJob(time.Time{})
	badCron.CronExpression = "whenever"
	assert.ErrorIs(t, e.SyncDefinitions(ctx, "alice", []domain.RecurringJob{badCron}), store.ErrInvalidEntity)

	badZone := *dailyJob(time.Time{})
	badZone.TimeZone = "Nowhere/Special"
	assert.ErrorIs(t, e.SyncDefinitions(ctx, "alice", []domain.RecurringJob{badZone}), store.ErrInvalidEntity)

	list, err := jobs.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list, "nothing is written when a definition is invalid")
}

func TestPayloadBuilders(t *testing.T) {
	t.Parallel()
	now := at("2026-05-05T09:00:00Z")
	last := at("2026-05-04T09:00:00Z")

	digest := &domain.RecurringJob{Name: "inbox", Kind: domain.JobKindDigest, LastRunAt: &last}
	spec, err := DigestPayload(digest, now)
	require.NoError(t, err)
	assert.Contains(t, spec.Prompt, `"inbox" digest`)
	assert.Contains(t, spec.Prompt, "2026-05-04T09:00:00Z")

	consolidation := &domain.RecurringJob{Name: "notes", Kind: domain.JobKindConsolidation, Command: "consolidate --all"}
	spec, err = ConsolidationPayload(consolidation, now)
	require.NoError(t, err)
	assert.Equal(t, "consolidate --all", spec.Command, "an explicit payload wins")

	c := &clock{now: now}
	creator := &recordingCreator{}
	jobs, err := memory.NewJobStore()
	require.NoError(t, err)
	custom := func(job *domain.RecurringJob, now time.Time) (domain.CreateTaskSpec, error) {
		return domain.CreateTaskSpec{Command: "custom " + job.Name}, nil
	}
	e := NewEvaluator(jobs, creator, testScheduleConfig(), testLogger(),
		WithClock(c.Now), WithPayloadBuilder(domain.JobKindDigest, custom))
	jobs.Seed(&domain.RecurringJob{
		TenantID: "alice", Name: "inbox", Kind: domain.JobKindDigest,
		CronExpression: "0 9 * * *", Enabled: true, CreatedAt: last,
	})

	fired, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	assert.Equal(t, "custom inbox", creator.created()[0].Command)
}

func ptr[T any](v T) *T { return &v }
