package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPoolRunsAllTasksAndStopsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(3, 10, zerolog.Nop())
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	require.NoError(t, pool.Start(func(ctx context.Context, task Task) error {
		mu.Lock()
		seen[task.JobID] = true
		mu.Unlock()
		return nil
	}))

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, pool.Dispatch(context.Background(), Task{JobID: id}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 5)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const workers = 2
	pool := NewPool(workers, 10, zerolog.Nop())
	var running, peak atomic.Int32
	release := make(chan struct{})
	require.NoError(t, pool.Start(func(ctx context.Context, task Task) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	}))

	for i := 0; i < 6; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), Task{JobID: "x"}))
	}
	require.Eventually(t, func() bool { return running.Load() == workers }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(workers), peak.Load())
}

func TestPoolQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(1, 1, zerolog.Nop())
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, pool.Start(func(ctx context.Context, task Task) error {
		started <- struct{}{}
		<-block
		return nil
	}))

	require.NoError(t, pool.Dispatch(context.Background(), Task{JobID: "running"}))
	<-started
	require.NoError(t, pool.Dispatch(context.Background(), Task{JobID: "queued"}))
	assert.ErrorIs(t, pool.Dispatch(context.Background(), Task{JobID: "overflow"}), ErrQueueFull)

	close(block)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolShutdownCancelsOnDeadline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(1, 1, zerolog.Nop())
	started := make(chan struct{})
	require.NoError(t, pool.Start(func(ctx context.Context, task Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, pool.Dispatch(context.Background(), Task{JobID: "stuck"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewPool(1, 1, zerolog.Nop())
	require.NoError(t, pool.Start(func(context.Context, Task) error { return nil }))
	require.NoError(t, pool.Shutdown(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.ErrorIs(t, pool.Dispatch(context.Background(), Task{JobID: "late"}), ErrDispatcherClosed)
	assert.ErrorIs(t, pool.Start(func(context.Context, Task) error { return nil }), ErrDispatcherClosed)
}

func TestPoolHandlerErrorDoesNotStopWorker(t *testing.T) {
	pool := NewPool(1, 4, zerolog.Nop())
	var calls atomic.Int32
	require.NoError(t, pool.Start(func(context.Context, Task) error {
		calls.Add(1)
		return errors.New("handler failed")
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), Task{JobID: "x"}))
	}
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDecodeTask(t *testing.T) {
	task, err := decodeTask([]byte(`{"jobId":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", task.JobID)

	_, err = decodeTask([]byte(`{}`))
	assert.Error(t, err)

	_, err = decodeTask([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewAsynqDispatcherRejectsBadURL(t *testing.T) {
	_, err := NewAsynqDispatcher("://bad", 1, zerolog.Nop())
	assert.Error(t, err)
}
