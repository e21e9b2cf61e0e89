package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, LogLevel: "debug", ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{Driver: "memory", MaxOpenConns: 1},
		Claim: config.ClaimConfig{
			LockStaleAfter:    30 * time.Minute,
			RunningStuckAfter: 15 * time.Minute,
			MaxRetryAge:       time.Hour,
			HeartbeatInterval: 20 * time.Millisecond,
		},
		Pool: config.PoolConfig{
			InstanceCap:         2,
			TenantForegroundCap: 1,
			TenantBackgroundCap: 1,
			IdleTimeout:         20 * time.Millisecond,
			DispatchInterval:    10 * time.Millisecond,
			ShutdownTimeout:     2 * time.Second,
		},
		Retry: config.RetryConfig{DefaultMaxAttempts: 4},
		Sweep: config.SweepConfig{
			Interval:            time.Hour,
			StaleAfter:          30 * time.Minute,
			AncientAfter:        24 * time.Hour,
			ConfirmationTimeout: time.Hour,
			RetentionHorizon:    30 * 24 * time.Hour,
			RetentionInterval:   time.Hour,
		},
		Schedule: config.ScheduleConfig{Interval: time.Hour, FailureCap: 3},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTestApp(t *testing.T, cfg *config.Config, opts ...appOption) (*application, *httptest.Server) {
	t.Helper()
	require.NoError(t, config.Validate(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	app, err := newApplication(ctx, cfg, discardLogger(), opts...)
	require.NoError(t, err)

	var loops sync.WaitGroup
	app.startLoops(ctx, &loops)
	srv := httptest.NewServer(app.handler)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		loops.Wait()
		assert.NoError(t, app.cleanup(context.Background()))
	})
	return app, srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestApplicationProcessesSubmittedTask(t *testing.T) {
	t.Parallel()
	app, srv := startTestApp(t, testConfig())

	resp := postJSON(t, srv.URL+"/api/tasks", `{"tenant_id":"alice","prompt":"water the plants","source_kind":"cli"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	require.Eventually(t, func() bool {
		got, err := app.taskStore.Get(context.Background(), created.ID)
		return err == nil && got.Status == domain.TaskStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	got, err := app.taskStore.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Received prompt: water the plants", got.Result)
}

func TestApplicationConfirmationFlow(t *testing.T) {
	t.Parallel()
	exec := task.ExecutorFunc(func(ctx context.Context, e task.Execution) (task.Result, error) {
		if e.Task.ConfirmedAt != nil {
			return task.Result{Success: true, Text: "Sent."}, nil
		}
		return task.Result{Success: true, Text: "Draft ready. Shall I send it?"}, nil
	})
	cfg := testConfig()
	cfg.Confirmation.RepliesSupported = true
	app, srv := startTestApp(t, cfg, withExecutor(exec))

	resp := postJSON(t, srv.URL+"/api/tasks",
		`{"tenant_id":"alice","prompt":"email bob","source_kind":"chat","conversation_ref":"c1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		got, err := app.taskStore.Get(context.Background(), 1)
		return err == nil && got.Status == domain.TaskStatusPendingConfirmation
	}, 2*time.Second, 5*time.Millisecond)

	resp = postJSON(t, srv.URL+"/api/replies", `{"tenant_id":"alice","conversation_ref":"c1","text":"yes please"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		got, err := app.taskStore.Get(context.Background(), 1)
		return err == nil && got.Status == domain.TaskStatusCompleted && got.Result == "Sent."
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApplicationLoadsDefinitionsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tenants:
  alice:
    - name: briefing
      kind: digest
      cron: "0 7 * * *"
`), 0o600))

	cfg := testConfig()
	cfg.Schedule.DefinitionsFile = path
	app, _ := startTestApp(t, cfg)

	_, err := app.evaluator.Tick(context.Background())
	require.NoError(t, err)
	jobs, err := app.jobStore.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobKindDigest, jobs[0].Kind)
}

func TestApplicationMemorySnapshot(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Database.SnapshotPath = filepath.Join(t.TempDir(), "state")

	app, err := newApplication(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	_, err = app.service.CreateTask(context.Background(),
		domain.CreateTaskSpec{TenantID: "alice", Prompt: "p", SourceKind: domain.SourceCLI})
	require.NoError(t, err)
	require.NoError(t, app.cleanup(context.Background()))

	reopened, err := newApplication(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	got, err := reopened.taskStore.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.TenantID)
	require.NoError(t, reopened.cleanup(context.Background()))
}

func TestNewApplicationRejectsBadPatterns(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Confirmation.Patterns = []string{"(unclosed"}
	_, err := newApplication(context.Background(), cfg, discardLogger())
	assert.ErrorContains(t, err, "confirmation patterns")
}

func TestLocalExecutorHonoursCancellation(t *testing.T) {
	t.Parallel()
	exec := newLocalExecutor(discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Execute(ctx, task.Execution{Task: &domain.Task{ID: 1, Command: "ls"}})
	assert.ErrorIs(t, err, context.Canceled)

	res, err := exec.Execute(context.Background(), task.Execution{Task: &domain.Task{ID: 1, Command: "ls"}})
	require.NoError(t, err)
	assert.Equal(t, "Received command: ls", res.Text)
}
