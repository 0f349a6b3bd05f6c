// Package ratelimit gates outbound model calls behind a process-wide minimum
// interval.
package ratelimit

import (
	"context"
	"time"

	"github.com/joescharf/prepx/internal/metrics"
)

// DefaultInterval is the minimum gap between two model calls.
const DefaultInterval = 13 * time.Second

// Limiter enforces a minimum interval between the starts of consecutive
// permitted calls. Waiters are served in arrival order; a Limiter never
// rejects, it only delays.
type Limiter struct {
	interval time.Duration
	// sem is a one-slot semaphore. Blocked channel senders are woken FIFO,
	// which gives arrival-order fairness.
	sem  chan struct{}
	last time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Limiter with the given interval. A non-positive interval
// disables waiting but still serializes Acquire.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		sem:      make(chan struct{}, 1),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Interval returns the configured minimum gap.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Acquire blocks until at least the interval has passed since the previous
// permitted call started, then records the new start time. It returns an
// error only when ctx ends first.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.now()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	if !l.last.IsZero() && l.interval > 0 {
		if wait := l.interval - l.now().Sub(l.last); wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	l.last = l.now()

	metrics.Get().LimiterWait.Observe(l.last.Sub(start).Seconds())
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
