package task

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	n atomic.Int32
}

func (c *countingNotifier) Notify() { c.n.Add(1) }

func TestServiceCreateTask(t *testing.T) {
	t.Parallel()
	notifier := &countingNotifier{}
	svc := NewService(newMemoryStore(t, newTestClock()), notifier, 3, setupTestLogger())
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, chatSpec("alice", "summarize my inbox"))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, created.Status)
	assert.Equal(t, 3, created.MaxAttempts)
	assert.Equal(t, domain.QueueForeground, created.QueueClass)
	assert.Equal(t, int32(1), notifier.n.Load())

	spec := chatSpec("alice", "one shot")
	spec.MaxAttempts = 1
	created, err = svc.CreateTask(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, 1, created.MaxAttempts)

	_, err = svc.CreateTask(ctx, domain.CreateTaskSpec{TenantID: "alice", SourceKind: domain.SourceChat})
	assert.ErrorIs(t, err, store.ErrInvalidEntity, "a task needs a prompt or a command")
	assert.Equal(t, int32(2), notifier.n.Load())

	list, err := svc.ListTasks(ctx, domain.TaskFilter{TenantID: "alice"})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestServiceCancelTask(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(t, newTestClock())
	svc := NewService(s, nil, 0, setupTestLogger())
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, chatSpec("alice", "never mind"))
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMaxAttempts, created.MaxAttempts)

	got, err := svc.CancelTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, got.Status)
	assert.Equal(t, ReasonUserCancelled, got.Error)

	_, err = svc.CancelTask(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "terminal tasks cannot be cancelled again")

	_, err = svc.CancelTask(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestServiceConfirmTask(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	s := newMemoryStore(t, clock)
	notifier := &countingNotifier{}
	svc := NewService(s, notifier, 0, setupTestLogger())
	ctx := context.Background()

	created, err := svc.CreateTask(ctx, chatSpec("alice", "pending"))
	require.NoError(t, err)
	_, err = svc.ConfirmTask(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransition, "only parked tasks can be confirmed")

	waiting := seedTask(clock, 50, domain.TaskStatusPendingConfirmation, 0)
	waiting.ConversationRef = ptr("chat-1")
	waiting.ConfirmationPrompt = "Shall I send it?"
	waiting.ConfirmationRequestedAt = ptr(clock.Now())
	s.Seed(waiting)

	confirmed, err := svc.ConfirmTask(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, confirmed.Status)
	assert.NotNil(t, confirmed.ConfirmedAt)
	assert.Equal(t, int32(2), notifier.n.Load())
}
