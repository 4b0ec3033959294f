package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/stirrup/internal/observability"
	"github.com/harun/stirrup/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit after Shutdown
var ErrClosed = errors.New("command queue is closed")

// Task is a unit of work, typically one agent session
type Task func(ctx context.Context) (interface{}, error)

// Stats is a snapshot of queue occupancy
type Stats struct {
	Waiting int `json:"waiting"`
	Running int `json:"running"`
	Limit   int `json:"limit"`
}

// Queue runs submitted tasks with bounded concurrency
type Queue struct {
	sem     *semaphore.Weighted
	limit   int
	handles map[*Handle]struct{}
	waiting int
	running int
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
	mu      sync.Mutex

	// publishDepth receives every occupancy change, under mu
	publishDepth func(waiting, running int)
}

// New creates a queue that runs at most maxConcurrent tasks at once.
// Values below 1 are treated as 1.
func New(maxConcurrent int, logger *zerolog.Logger) *Queue {
	observability.EnsureRegistered()

	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	l := log.Logger
	if logger != nil {
		l = *logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		limit:   maxConcurrent,
		handles: make(map[*Handle]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  l.With().Str("component", "commandqueue").Logger(),

		publishDepth: observability.SetQueueDepth,
	}
}

// Submit schedules task and returns its handle. The task's context is
// cancelled when ctx is, when the handle is cancelled, or on Shutdown.
func (q *Queue) Submit(ctx context.Context, name string, task Task) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task ID: %w", err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}

	taskCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.ctx, cancel)

	h := &Handle{
		ID:         id,
		Name:       name,
		EnqueuedAt: time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
		queue:      q,
	}
	q.handles[h] = struct{}{}
	q.waiting++
	q.publishLocked()
	q.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, q.logger)
	logger.Debug().
		Str("task_id", id).
		Str("name", name).
		Msg("Task enqueued")

	go func() {
		defer stop()
		defer cancel()
		q.execute(taskCtx, h, task)
	}()
	return h, nil
}

func (q *Queue) execute(ctx context.Context, h *Handle, task Task) {
	ctx, span := tracing.StartSpan(ctx, "stirrup/commandqueue", "commandqueue.task",
		attribute.String("task_id", h.ID),
		attribute.String("name", h.Name),
	)
	logger := tracing.LoggerFromContext(ctx, q.logger).With().Str("task_id", h.ID).Logger()

	if err := q.sem.Acquire(ctx, 1); err != nil {
		q.mu.Lock()
		q.waiting--
		q.publishLocked()
		q.mu.Unlock()

		logger.Debug().Err(err).Msg("Task cancelled while waiting")
		q.complete(h, nil, err, 0)
		tracing.EndSpan(span, err)
		return
	}

	q.mu.Lock()
	q.waiting--
	q.running++
	q.publishLocked()
	q.mu.Unlock()

	start := time.Now()
	logger.Debug().Dur("wait", start.Sub(h.EnqueuedAt)).Msg("Task started")

	value, err := runTask(ctx, task)
	duration := time.Since(start)
	q.sem.Release(1)

	q.mu.Lock()
	q.running--
	q.publishLocked()
	q.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("Task failed")
	} else {
		logger.Debug().Dur("duration", duration).Msg("Task completed")
	}

	q.complete(h, value, err, duration)
	tracing.EndSpan(span, err)
}

// runTask converts a panic into an error so the handle always completes
func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (q *Queue) complete(h *Handle, value interface{}, err error, duration time.Duration) {
	status := "success"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	observability.RecordQueueCompletion(duration, status)

	q.mu.Lock()
	h.value, h.err = value, err
	// failed handles stay tracked until someone observes the error
	if err == nil || h.observed {
		delete(q.handles, h)
	}
	q.publishLocked()
	q.mu.Unlock()

	close(h.done)
}

func (q *Queue) publishLocked() {
	q.publishDepth(q.waiting, q.running)
}

// Stats returns the current occupancy
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Waiting: q.waiting, Running: q.running, Limit: q.limit}
}

// Pending returns the handles still owned by the queue: tasks that have not
// finished plus failed tasks nobody has waited for. Ordered by submission.
func (q *Queue) Pending() []*Handle {
	q.mu.Lock()
	out := make([]*Handle, 0, len(q.handles))
	for h := range q.handles {
		out = append(out, h)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out
}

// Shutdown stops accepting work, cancels every outstanding task and waits for
// them. It returns the joined errors of tasks whose failure was never observed
// through Wait; cancellations caused by the shutdown itself are not reported.
// If ctx ends first its error is included and remaining tasks are abandoned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	alreadyClosed := q.closed
	q.closed = true
	q.mu.Unlock()

	if !alreadyClosed {
		q.logger.Info().Msg("Shutting down command queue")
	}
	q.cancel()

	var errs []error
	for _, h := range q.Pending() {
		select {
		case <-h.done:
		case <-ctx.Done():
			q.logger.Warn().Str("task_id", h.ID).Msg("Shutdown deadline reached before task finished")
			return errors.Join(append(errs, ctx.Err())...)
		}

		q.mu.Lock()
		observed := h.observed
		h.observed = true
		delete(q.handles, h)
		q.mu.Unlock()

		if observed || h.err == nil || errors.Is(h.err, context.Canceled) {
			continue
		}
		errs = append(errs, fmt.Errorf("task %s (%s): %w", h.Name, h.ID, h.err))
	}
	return errors.Join(errs...)
}

// Handle is the caller's reference to a submitted task
type Handle struct {
	ID         string
	Name       string
	EnqueuedAt time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	value    interface{}
	err      error
	observed bool
	queue    *Queue
}

// Done is closed when the task has finished
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel cancels the task; a task still waiting for a slot never runs
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the task finishes or ctx ends and returns the task's result.
// Once Wait has returned the task's error, Shutdown no longer reports it.
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if q := h.queue; q != nil {
		q.mu.Lock()
		h.observed = true
		delete(q.handles, h)
		q.mu.Unlock()
	}
	return h.value, h.err
}
