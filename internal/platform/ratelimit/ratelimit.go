// Package ratelimit provides a token-bucket limiter for outbound source calls.
//
// Built on golang.org/x/time/rate: tokens refill lazily from elapsed
// wall-clock time and waiting callers are served in reservation order.
// A Limiter is constructed per run and injected into every stage that talks
// to the source, so concurrent runs never share a bucket.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

const secondsPerMinute = 60

// Limiter grants a capped, continuously refilling pool of permits.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter refilling requestsPerMinute tokens per minute with a
// burst capacity of maxTokens scaled by burstMultiplier. Non-positive inputs
// are clamped to a 1-token, 1-rpm bucket.
func New(requestsPerMinute int, maxTokens int, burstMultiplier float64) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}

	if maxTokens <= 0 {
		maxTokens = 1
	}

	if burstMultiplier < 1 {
		burstMultiplier = 1
	}

	burst := int(float64(maxTokens) * burstMultiplier)
	if burst < 1 {
		burst = 1
	}

	rps := float64(requestsPerMinute) / secondsPerMinute

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Acquire blocks until n tokens are available, then debits them. Waiters are
// served in submission order. The wait is bounded by ctx: cancellation or a
// deadline releases the caller with an error instead of waiting forever.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}

	if err := l.limiter.WaitN(ctx, n); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	return nil
}

// Allow reports whether a single token is immediately available, debiting it
// if so. Used by callers that prefer skipping over waiting.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}
