package tasks

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, handler Handler, config PoolConfig) *Pool {
	t.Helper()

	pool := NewPool(slog.New(slog.DiscardHandler), handler, config)
	t.Cleanup(func() { _ = pool.Close() })

	return pool
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case value := <-ch:
		return value
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")

		var zero T

		return zero
	}
}

func TestPool_Dispatch(t *testing.T) {
	t.Parallel()

	done := make(chan Task, 1)
	pool := newTestPool(t, func(_ context.Context, task Task) error {
		done <- task

		return nil
	}, PoolConfig{Workers: 2, QueueSize: 4})
	pool.Start()

	require.NoError(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "exec-1"}))

	task := waitFor(t, done)
	assert.Equal(t, "exec-1", task.ID)
	assert.Equal(t, TypeWorkflowRun, task.Type)
}

func TestPool_QueueFull(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, func(context.Context, Task) error { return nil }, PoolConfig{Workers: 1, QueueSize: 1})

	require.NoError(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "a"}))
	require.ErrorIs(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "b"}), ErrQueueFull)
}

func TestPool_Cancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	reasons := make(chan error, 1)

	pool := newTestPool(t, func(ctx context.Context, _ Task) error {
		close(started)
		<-ctx.Done()
		reasons <- Reason(ctx)

		return ctx.Err()
	}, PoolConfig{Workers: 1, QueueSize: 1})
	pool.Start()

	require.NoError(t, pool.Dispatch(t.Context(), Task{Type: TypeAgentExecute, ID: "exec-1"}))
	waitFor(t, started)
	assert.Equal(t, 1, pool.Running())

	require.NoError(t, pool.Cancel(t.Context(), "unknown"))
	require.NoError(t, pool.Cancel(t.Context(), "exec-1"))

	assert.ErrorIs(t, waitFor(t, reasons), ErrCancelled)
}

func TestPool_Timeout(t *testing.T) {
	t.Parallel()

	reasons := make(chan error, 1)

	pool := newTestPool(t, func(ctx context.Context, _ Task) error {
		<-ctx.Done()
		reasons <- Reason(ctx)

		return nil
	}, PoolConfig{Workers: 1, QueueSize: 1, Timeout: 20 * time.Millisecond})
	pool.Start()

	require.NoError(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "exec-1"}))

	assert.ErrorIs(t, waitFor(t, reasons), ErrTimeout)
}

func TestPool_CloseInterruptsRunningTasks(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	reasons := make(chan error, 1)

	pool := NewPool(slog.New(slog.DiscardHandler), func(ctx context.Context, _ Task) error {
		close(started)
		<-ctx.Done()
		reasons <- Reason(ctx)

		return nil
	}, PoolConfig{Workers: 1, QueueSize: 2})
	pool.Start()

	require.NoError(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "exec-1"}))
	waitFor(t, started)

	require.NoError(t, pool.Close())
	assert.ErrorIs(t, waitFor(t, reasons), ErrInterrupted)

	require.ErrorIs(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "exec-2"}), ErrClosed)
	require.NoError(t, pool.Close())
}

func TestPool_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	done := make(chan string, 1)

	pool := newTestPool(t, func(_ context.Context, task Task) error {
		if task.ID == "boom" {
			panic("node exploded")
		}

		done <- task.ID

		return errors.New("handler errors are only logged")
	}, PoolConfig{Workers: 1, QueueSize: 2})
	pool.Start()

	require.NoError(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "boom"}))
	require.NoError(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "next"}))

	assert.Equal(t, "next", waitFor(t, done))
}

func TestPool_DispatchAtHoldsNoWorker(t *testing.T) {
	t.Parallel()

	done := make(chan string, 2)
	pool := newTestPool(t, func(_ context.Context, task Task) error {
		done <- task.ID

		return nil
	}, PoolConfig{Workers: 1, QueueSize: 2})
	pool.Start()

	require.NoError(t, pool.DispatchAt(t.Context(), Task{Type: TypeWorkflowRun, ID: "later"}, time.Now().Add(100*time.Millisecond)))
	assert.Equal(t, 1, pool.Delayed())
	assert.Equal(t, 0, pool.Running())

	require.NoError(t, pool.Dispatch(t.Context(), Task{Type: TypeWorkflowRun, ID: "now"}))

	assert.Equal(t, "now", waitFor(t, done))
	assert.Equal(t, "later", waitFor(t, done))
	assert.Equal(t, 0, pool.Delayed())
}

func TestPool_DispatchAtPastRunsImmediately(t *testing.T) {
	t.Parallel()

	done := make(chan string, 1)
	pool := newTestPool(t, func(_ context.Context, task Task) error {
		done <- task.ID

		return nil
	}, PoolConfig{Workers: 1, QueueSize: 1})
	pool.Start()

	require.NoError(t, pool.DispatchAt(t.Context(), Task{Type: TypeWorkflowRun, ID: "overdue"}, time.Now().Add(-time.Minute)))
	assert.Equal(t, "overdue", waitFor(t, done))
}

func TestPool_CancelDropsDelayedTask(t *testing.T) {
	t.Parallel()

	done := make(chan string, 1)
	pool := newTestPool(t, func(_ context.Context, task Task) error {
		done <- task.ID

		return nil
	}, PoolConfig{Workers: 1, QueueSize: 1})
	pool.Start()

	require.NoError(t, pool.DispatchAt(t.Context(), Task{Type: TypeWorkflowRun, ID: "parked"}, time.Now().Add(50*time.Millisecond)))
	require.NoError(t, pool.Cancel(t.Context(), "parked"))
	assert.Equal(t, 0, pool.Delayed())

	select {
	case id := <-done:
		t.Fatalf("cancelled delayed task %s ran", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPool_DispatchAtAfterClose(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, func(context.Context, Task) error { return nil }, PoolConfig{Workers: 1, QueueSize: 1})
	require.NoError(t, pool.Close())

	err := pool.DispatchAt(t.Context(), Task{Type: TypeWorkflowRun, ID: "x"}, time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrClosed)
}

func TestResumeTaskID(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "exec-1@1772352000", resumeTaskID("exec-1", at))
}

func TestReason(t *testing.T) {
	t.Parallel()

	timeout, cancel := context.WithTimeout(t.Context(), time.Nanosecond)
	defer cancel()
	<-timeout.Done()

	cancelled, cancelCause := context.WithCancelCause(t.Context())
	cancelCause(ErrCancelled)

	plain, cancelPlain := context.WithCancel(t.Context())
	cancelPlain()

	assert.ErrorIs(t, Reason(timeout), ErrTimeout)
	assert.ErrorIs(t, Reason(cancelled), ErrCancelled)
	assert.ErrorIs(t, Reason(plain), ErrInterrupted)
}
