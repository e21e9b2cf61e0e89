package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/task"
)

// localExecutor acknowledges tasks without an agent attached. Deployments that
// run real work pass their own task.Executor through withExecutor.
type localExecutor struct {
	logger *slog.Logger
}

func newLocalExecutor(logger *slog.Logger) *localExecutor {
	return &localExecutor{logger: logger.With(slog.String("component", "local_executor"))}
}

func (e *localExecutor) Execute(ctx context.Context, exec task.Execution) (task.Result, error) {
	if exec.CancelRequested() {
		return task.Result{}, task.ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return task.Result{}, err
	}

	t := exec.Task
	body := strings.TrimSpace(t.Prompt)
	kind := "prompt"
	if body == "" {
		body = strings.TrimSpace(t.Command)
		kind = "command"
	}
	e.logger.InfoContext(ctx, "task acknowledged",
		slog.Int64("task_id", t.ID),
		slog.String("tenant_id", t.TenantID),
		slog.String("payload_kind", kind))

	return task.Result{
		Success:    true,
		Text:       fmt.Sprintf("Received %s: %s", kind, body),
		ActionsLog: "acknowledged",
	}, nil
}

// deferredCreator forwards to a task creator set after construction. It breaks
// the construction cycle between the evaluator, the pool and the service.
type deferredCreator struct {
	mu      sync.RWMutex
	creator interface {
		CreateTask(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error)
	}
}

func (d *deferredCreator) set(c *task.Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creator = c
}

func (d *deferredCreator) CreateTask(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error) {
	d.mu.RLock()
	c := d.creator
	d.mu.RUnlock()
	if c == nil {
		return nil, errors.New("task creator is not ready")
	}
	return c.CreateTask(ctx, spec)
}
