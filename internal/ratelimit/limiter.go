package ratelimit

import (
	"context"
	"sync"
	"time"

	"zapcast/internal/errors"

	"golang.org/x/time/rate"
)

// Limiter enforces the outbound send cap per channel. All campaigns
// dispatching on a channel share one token bucket, so the cap holds
// globally regardless of how many campaigns are in flight. Waiters are
// admitted in FIFO order by rate.Limiter, which keeps concurrently
// dispatching campaigns from starving each other.
type Limiter struct {
	mu             sync.Mutex
	sendsPerMinute int
	burst          int
	channels       map[string]*rate.Limiter
	closed         bool
}

// New creates a limiter with the given per-channel cap.
func New(sendsPerMinute int) *Limiter {
	if sendsPerMinute <= 0 {
		sendsPerMinute = 1
	}
	return &Limiter{
		sendsPerMinute: sendsPerMinute,
		burst:          1,
		channels:       make(map[string]*rate.Limiter),
	}
}

// Acquire blocks until a send grant is available for the channel, the
// context is cancelled, or the limiter is closed. A closed limiter fails
// closed: callers get RATE_LIMIT and must pause dispatch, never bypass
// the cap.
func (l *Limiter) Acquire(ctx context.Context, channel string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New(errors.ErrCodeRateLimit, "rate limiter is closed, dispatch paused")
	}
	lim, ok := l.channels[channel]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.sendsPerMinute)/60.0), l.burst)
		l.channels[channel] = lim
	}
	l.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeRateLimit, "rate limiter wait cancelled")
	}
	return nil
}

// Allow reports whether a grant is immediately available without
// consuming one waiter slot; used by tests and the metrics surface.
func (l *Limiter) Allow(channel string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	lim, ok := l.channels[channel]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.sendsPerMinute)/60.0), l.burst)
		l.channels[channel] = lim
	}
	return lim.Allow()
}

// SetRate replaces the cap for all channels; existing waiters keep their
// position.
func (l *Limiter) SetRate(sendsPerMinute int) {
	if sendsPerMinute <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendsPerMinute = sendsPerMinute
	for _, lim := range l.channels {
		lim.SetLimit(rate.Limit(float64(sendsPerMinute) / 60.0))
	}
}

// Close marks the limiter unavailable. Subsequent Acquire calls fail
// closed.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// NextDelay estimates the wait a new caller on the channel would incur;
// exposed for the metrics surface only.
func (l *Limiter) NextDelay(channel string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.channels[channel]
	if !ok {
		return 0
	}
	r := lim.Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}
