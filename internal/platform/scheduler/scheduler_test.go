package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opportunity-engine/reddit-research/internal/core/errkind"
)

func TestPool_BoundedConcurrency(t *testing.T) {
	const concurrency = 3

	var current, peak int64

	handler := func(_ context.Context, _ int) (int, error) {
		n := atomic.AddInt64(&current, 1)

		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&current, -1)

		return 0, nil
	}

	pool := New(handler, Options{Concurrency: concurrency, RetryAttempts: 1})

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		pool.Submit(ctx, Task[int]{ID: fmt.Sprintf("t%d", i)})
	}

	require.NoError(t, pool.WaitForIdle(ctx))
	assert.LessOrEqual(t, peak, int64(concurrency))
}

func TestPool_EveryTaskYieldsOneResult(t *testing.T) {
	handler := func(_ context.Context, n int) (int, error) {
		if n%3 == 0 {
			return 0, errkind.Tagf(errkind.KindFatal, "task %d rejected", n)
		}

		return n * 2, nil
	}

	pool := New(handler, Options{Concurrency: 4, RetryAttempts: 2})

	ctx := context.Background()

	const total = 30
	for i := 0; i < total; i++ {
		pool.Submit(ctx, Task[int]{ID: fmt.Sprintf("t%d", i), Payload: i})
	}

	results, err := pool.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, results, total)

	seen := make(map[string]bool, total)
	for _, r := range results {
		assert.False(t, seen[r.TaskID], "duplicate result for %s", r.TaskID)
		seen[r.TaskID] = true

		if r.Payload%3 == 0 {
			assert.Error(t, r.Err)
		} else {
			require.NoError(t, r.Err)
			assert.Equal(t, r.Payload*2, r.Value)
		}
	}
}

func TestPool_PriorityOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)

	handler := func(_ context.Context, id string) (struct{}, error) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()

		return struct{}{}, nil
	}

	// Single worker so dispatch order is observable.
	pool := New(handler, Options{Concurrency: 1, RetryAttempts: 1})

	ctx := context.Background()
	pool.SubmitBatch(ctx, []Task[string]{
		{ID: "low", Payload: "low", Priority: 1},
		{ID: "high", Payload: "high", Priority: 10},
		{ID: "mid", Payload: "mid", Priority: 5},
		{ID: "mid2", Payload: "mid2", Priority: 5},
	})

	require.NoError(t, pool.WaitForIdle(ctx))

	// The first task may start before the rest are queued; the remainder
	// must come out highest priority first, ties in submission order.
	require.Len(t, order, 4)
	rest := order[1:]
	assert.Equal(t, []string{"high", "mid", "mid2"}, rest)
}

func TestPool_RetriesTransientThenSucceeds(t *testing.T) {
	var attempts int32

	handler := func(_ context.Context, _ struct{}) (string, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return "", errkind.Tagf(errkind.KindTransient, "flaky")
		}

		return "ok", nil
	}

	pool := New(handler, Options{
		Concurrency:   1,
		RetryAttempts: 3,
		BaseDelay:     time.Millisecond,
	})

	ctx := context.Background()
	pool.Submit(ctx, Task[struct{}]{ID: "flaky"})

	results, err := pool.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "ok", results[0].Value)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestPool_RateLimitedBacksOffLonger(t *testing.T) {
	pool := New(func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}, Options{BaseDelay: 10 * time.Millisecond, RateLimitDelay: 80 * time.Millisecond})

	transient := pool.backoff(errkind.KindTransient, 1)
	limited := pool.backoff(errkind.KindRateLimited, 1)

	assert.Greater(t, limited, transient)
	assert.Equal(t, maxBackoff, pool.backoff(errkind.KindRateLimited, 30))
}

func TestPool_FatalErrorNotRetried(t *testing.T) {
	var attempts int32

	handler := func(_ context.Context, _ struct{}) (struct{}, error) {
		atomic.AddInt32(&attempts, 1)

		return struct{}{}, errkind.Tagf(errkind.KindFatal, "bad request")
	}

	pool := New(handler, Options{Concurrency: 1, RetryAttempts: 5, BaseDelay: time.Millisecond})

	ctx := context.Background()
	pool.Submit(ctx, Task[struct{}]{ID: "fatal"})

	results, err := pool.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Equal(t, int32(1), attempts)
}

func TestPool_TaskTimeout(t *testing.T) {
	handler := func(ctx context.Context, _ struct{}) (struct{}, error) {
		select {
		case <-time.After(time.Second):
			return struct{}{}, nil
		case <-ctx.Done():
			return struct{}{}, fmt.Errorf("handler canceled: %w", ctx.Err())
		}
	}

	pool := New(handler, Options{
		Concurrency:   1,
		RetryAttempts: 1,
		TaskTimeout:   20 * time.Millisecond,
	})

	ctx := context.Background()
	pool.Submit(ctx, Task[struct{}]{ID: "slow"})

	start := time.Now()
	results, err := pool.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPool_PanicBecomesErrorResult(t *testing.T) {
	handler := func(_ context.Context, _ struct{}) (struct{}, error) {
		panic("boom")
	}

	pool := New(handler, Options{Concurrency: 1, RetryAttempts: 1})

	ctx := context.Background()
	pool.Submit(ctx, Task[struct{}]{ID: "panics"})

	results, err := pool.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "panic")
}

func TestPool_WaitForIdleOnEmptyPool(t *testing.T) {
	pool := New(func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}, Options{})

	require.NoError(t, pool.WaitForIdle(context.Background()))
}
