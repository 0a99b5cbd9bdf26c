// Package scheduler provides a bounded-concurrency, priority-ordered,
// retrying executor for homogeneous units of work.
//
// A Pool runs a fixed handler over submitted tasks: at most Concurrency
// tasks execute at once, higher priority tasks dispatch first (ties broken
// by submission order), and each execution is wrapped with a hard timeout
// and a retry loop with exponential backoff. Failures that look rate-limited
// back off longer than plain transient failures.
//
// Every submitted task yields exactly one Result, success or error; a task
// that exhausts its retries resolves as an error result and never panics out
// of the pool.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
	"github.com/opportunity-engine/reddit-research/internal/platform/observability"
)

const (
	defaultConcurrency   = 4
	defaultRetryAttempts = 3
	defaultBaseDelay     = 500 * time.Millisecond
	defaultRateDelay     = 5 * time.Second
	maxBackoff           = 60 * time.Second
)

// Handler executes one unit of work.
type Handler[T, R any] func(ctx context.Context, payload T) (R, error)

// Task is one submitted unit of work. Higher Priority dispatches earlier.
type Task[T any] struct {
	ID       string
	Payload  T
	Priority int
}

// Result is the single outcome produced for a submitted task.
type Result[T, R any] struct {
	TaskID   string
	Payload  T
	Value    R
	Err      error
	Attempts int
	Duration time.Duration
}

// Options configures a Pool.
type Options struct {
	Concurrency    int
	RetryAttempts  int
	TaskTimeout    time.Duration // zero disables the per-task timeout
	BaseDelay      time.Duration
	RateLimitDelay time.Duration
	Logger         *zerolog.Logger
}

func (o *Options) fill() {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}

	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}

	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}

	if o.RateLimitDelay <= 0 {
		o.RateLimitDelay = defaultRateDelay
	}

	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
}

type queued[T any] struct {
	task Task[T]
	ctx  context.Context
	seq  uint64
}

// taskHeap is a max-heap on priority; equal priorities keep submission order.
type taskHeap[T any] []*queued[T]

func (h taskHeap[T]) Len() int { return len(h) }

func (h taskHeap[T]) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}

	return h[i].seq < h[j].seq
}

func (h taskHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap[T]) Push(x any) { *h = append(*h, x.(*queued[T])) }

func (h *taskHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return item
}

// Pool is a priority worker pool with a fixed handler.
type Pool[T, R any] struct {
	handler Handler[T, R]
	opts    Options

	mu      sync.Mutex
	pending taskHeap[T]
	running int
	seq     uint64
	results []Result[T, R]
	waiters []chan struct{}
}

// New creates a pool around handler. The handler must be safe for concurrent
// use by Options.Concurrency goroutines.
func New[T, R any](handler Handler[T, R], opts Options) *Pool[T, R] {
	opts.fill()

	return &Pool[T, R]{
		handler: handler,
		opts:    opts,
	}
}

// Submit enqueues one task. Execution begins as soon as a concurrency slot
// frees up; ctx bounds the task's execution, not the enqueue.
func (p *Pool[T, R]) Submit(ctx context.Context, task Task[T]) {
	p.mu.Lock()

	p.seq++
	heap.Push(&p.pending, &queued[T]{task: task, ctx: ctx, seq: p.seq})
	observability.SchedulerQueueDepth.Set(float64(len(p.pending)))

	p.dispatchLocked()
	p.mu.Unlock()
}

// SubmitBatch enqueues tasks preserving their relative order for equal
// priorities.
func (p *Pool[T, R]) SubmitBatch(ctx context.Context, tasks []Task[T]) {
	for _, t := range tasks {
		p.Submit(ctx, t)
	}
}

// WaitForIdle blocks until the queue is empty and no task is running, or ctx
// is done. It never resolves while any task is outstanding.
func (p *Pool[T, R]) WaitForIdle(ctx context.Context) error {
	p.mu.Lock()

	if p.idleLocked() {
		p.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain waits for idle and returns (and clears) all accumulated results.
// Result order is completion order, not submission order; aggregation must
// key on TaskID.
func (p *Pool[T, R]) Drain(ctx context.Context) ([]Result[T, R], error) {
	if err := p.WaitForIdle(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	out := p.results
	p.results = nil
	p.mu.Unlock()

	return out, nil
}

func (p *Pool[T, R]) idleLocked() bool {
	return len(p.pending) == 0 && p.running == 0
}

// dispatchLocked starts queued tasks while concurrency slots are free.
// Caller must hold p.mu.
func (p *Pool[T, R]) dispatchLocked() {
	for p.running < p.opts.Concurrency && len(p.pending) > 0 {
		next := heap.Pop(&p.pending).(*queued[T])
		observability.SchedulerQueueDepth.Set(float64(len(p.pending)))
		p.running++

		go p.run(next)
	}
}

func (p *Pool[T, R]) run(q *queued[T]) {
	start := time.Now()
	value, err, attempts := p.executeWithRetry(q.ctx, q.task)

	res := Result[T, R]{
		TaskID:   q.task.ID,
		Payload:  q.task.Payload,
		Value:    value,
		Err:      err,
		Attempts: attempts,
		Duration: time.Since(start),
	}

	p.mu.Lock()
	p.results = append(p.results, res)
	p.running--
	p.dispatchLocked()

	if p.idleLocked() {
		for _, ch := range p.waiters {
			close(ch)
		}

		p.waiters = nil
	}
	p.mu.Unlock()
}

func (p *Pool[T, R]) executeWithRetry(ctx context.Context, task Task[T]) (R, error, int) {
	var (
		value R
		err   error
	)

	for attempt := 1; attempt <= p.opts.RetryAttempts; attempt++ {
		value, err = p.executeOnce(ctx, task)
		if err == nil {
			return value, nil, attempt
		}

		kind := errkind.KindOf(err)
		if kind == errkind.KindFatal || attempt == p.opts.RetryAttempts {
			return value, err, attempt
		}

		delay := p.backoff(kind, attempt)

		observability.SchedulerRetries.WithLabelValues(kindLabel(kind)).Inc()
		p.opts.Logger.Debug().
			Err(err).
			Str("task_id", task.ID).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("task failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return value, ctx.Err(), attempt
		}
	}

	return value, err, p.opts.RetryAttempts
}

// executeOnce races the handler against the per-task timeout. On overrun the
// attempt is abandoned: the context is canceled so cooperative handlers stop,
// but a handler that ignores it keeps running with its result discarded.
func (p *Pool[T, R]) executeOnce(ctx context.Context, task Task[T]) (R, error) {
	var zero R

	if p.opts.TaskTimeout <= 0 {
		return p.safeHandle(ctx, task.Payload)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.TaskTimeout)
	defer cancel()

	type outcome struct {
		value R
		err   error
	}

	done := make(chan outcome, 1)

	go func() {
		v, err := p.safeHandle(attemptCtx, task.Payload)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-attemptCtx.Done():
		return zero, errkind.Tagf(errkind.KindTransient, "task %s: %w", task.ID, attemptCtx.Err())
	}
}

// safeHandle converts a handler panic into an error result so one bad task
// cannot take down the pool.
func (p *Pool[T, R]) safeHandle(ctx context.Context, payload T) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errkind.Tagf(errkind.KindFatal, "task panic: %v", r)
		}
	}()

	return p.handler(ctx, payload)
}

func (p *Pool[T, R]) backoff(kind errkind.Kind, attempt int) time.Duration {
	base := p.opts.BaseDelay
	if kind == errkind.KindRateLimited {
		base = p.opts.RateLimitDelay
	}

	delay := base << (attempt - 1)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}

	return delay
}

func kindLabel(kind errkind.Kind) string {
	switch kind {
	case errkind.KindRateLimited:
		return "rate_limited"
	case errkind.KindFatal:
		return "fatal"
	default:
		return "transient"
	}
}
