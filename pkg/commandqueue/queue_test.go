package commandqueue

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
)

func setupTestQueue(t *testing.T, limit int) *Queue {
	t.Helper()
	logger := zerolog.Nop()
	q := New(limit, &logger)
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })
	return q
}

func TestQueue_BasicSubmit(t *testing.T) {
	q := setupTestQueue(t, 1)

	h, err := q.Submit(context.Background(), "basic", func(ctx context.Context) (interface{}, error) {
		return "result", nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "basic", h.Name)

	result, err := h.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "result", result)
	assert.Empty(t, q.Pending())
	assert.Equal(t, Stats{Limit: 1}, q.Stats())
}

func TestQueue_TaskErrorObservedByWait(t *testing.T) {
	q := setupTestQueue(t, 1)
	expectedErr := errors.New("task failed")

	h, err := q.Submit(context.Background(), "failing", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	})
	require.NoError(t, err)

	result, err := h.Wait(context.Background())
	assert.ErrorIs(t, err, expectedErr)
	assert.Nil(t, result)

	// already observed, so shutdown has nothing to report
	assert.NoError(t, q.Shutdown(context.Background()))
}

func TestQueue_ConcurrencyCapNeverExceeded(t *testing.T) {
	const limit = 2
	q := setupTestQueue(t, limit)

	var current, peak int32
	handles := make([]*Handle, 0, 8)
	for i := 0; i < 8; i++ {
		h, err := q.Submit(context.Background(), "capped", func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt32(&current, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil, nil
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	for _, h := range handles {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), int32(1))
}

func TestQueue_CancelWaitingTaskNeverRuns(t *testing.T) {
	q := setupTestQueue(t, 1)

	release := make(chan struct{})
	blocker, err := q.Submit(context.Background(), "blocker", func(ctx context.Context) (interface{}, error) {
		<-release
		return "done", nil
	})
	require.NoError(t, err)

	var ran atomic.Bool
	waiting, err := q.Submit(context.Background(), "waiting", func(ctx context.Context) (interface{}, error) {
		ran.Store(true)
		return nil, nil
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s := q.Stats()
		return s.Running == 1 && s.Waiting == 1
	}, time.Second, 5*time.Millisecond)

	waiting.Cancel()
	_, err = waiting.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())

	close(release)
	result, err := blocker.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestQueue_ParentContextCancelsTask(t *testing.T) {
	q := setupTestQueue(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	h, err := q.Submit(ctx, "session", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	cancel()
	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_WaitHonoursContext(t *testing.T) {
	q := setupTestQueue(t, 1)

	release := make(chan struct{})
	defer close(release)
	h, err := q.Submit(context.Background(), "slow", func(ctx context.Context) (interface{}, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_PanicBecomesError(t *testing.T) {
	q := setupTestQueue(t, 1)

	h, err := q.Submit(context.Background(), "panicky", func(ctx context.Context) (interface{}, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestQueue_ShutdownReportsUnobservedFailures(t *testing.T) {
	logger := zerolog.Nop()
	q := New(2, &logger)
	boom := errors.New("boom")

	failed, err := q.Submit(context.Background(), "failing", func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	require.NoError(t, err)
	<-failed.Done()

	_, err = q.Submit(context.Background(), "long", func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	// the failed task stays owned until someone looks at it
	assert.Len(t, q.Pending(), 2)

	err = q.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing")
	assert.NotErrorIs(t, err, context.Canceled)
	assert.Empty(t, q.Pending())

	_, err = q.Submit(context.Background(), "late", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_ShutdownDeadline(t *testing.T) {
	logger := zerolog.Nop()
	q := New(1, &logger)

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	_, err := q.Submit(context.Background(), "stubborn", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = q.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_ConcurrentSubmitters(t *testing.T) {
	q := setupTestQueue(t, 3)

	var wg sync.WaitGroup
	var completed atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := q.Submit(context.Background(), "parallel", func(ctx context.Context) (interface{}, error) {
				return nil, nil
			})
			if err != nil {
				return
			}
			if _, err := h.Wait(context.Background()); err == nil {
				completed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), completed.Load())
}

func TestNew_MinimumLimit(t *testing.T) {
	q := setupTestQueue(t, 0)
	assert.Equal(t, 1, q.Stats().Limit)
}

type depth struct{ waiting, running int }

type depthRecorder struct {
	mu     sync.Mutex
	values []depth
}

func (r *depthRecorder) record(waiting, running int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, depth{waiting, running})
}

func (r *depthRecorder) snapshot() []depth {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]depth(nil), r.values...)
}

func TestQueue_PublishesDepthOnEveryTransition(t *testing.T) {
	q := setupTestQueue(t, 1)
	recorder := &depthRecorder{}
	q.publishDepth = recorder.record

	release := make(chan struct{})
	blocker, err := q.Submit(context.Background(), "blocker", func(ctx context.Context) (interface{}, error) {
		<-release
		return "done", nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Stats().Running == 1 }, time.Second, 5*time.Millisecond)

	waiting, err := q.Submit(context.Background(), "waiting", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	require.NoError(t, err)
	waiting.Cancel()
	_, err = waiting.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	_, err = blocker.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []depth{
		{1, 0}, // blocker enqueued
		{0, 1}, // blocker started
		{1, 1}, // second task enqueued
		{0, 1}, // second task left the wait line
		{0, 1}, // second task completed as cancelled
		{0, 0}, // blocker stopped running
		{0, 0}, // blocker completed
	}, recorder.snapshot())
}
