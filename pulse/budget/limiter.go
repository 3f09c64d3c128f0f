// Package budget holds the process-wide request ceiling.
//
// A Limiter keeps the timestamps of every permit granted in the trailing
// 60 seconds. Acquire prunes expired entries, grants a permit when the count
// is below the ceiling and otherwise polls until one frees up. Waiting has no
// upper bound other than the caller's context.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// DefaultPollInterval is how long Acquire sleeps between checks when the window is full
const DefaultPollInterval = 100 * time.Millisecond

// Limiter enforces max calls per time window using sliding window algorithm
type Limiter struct {
	maxCallsPerMinute int
	window            time.Duration
	pollInterval      time.Duration
	mu                sync.Mutex
	callTimes         []time.Time
	timeNow           func() time.Time // Injectable for testing

	logger   *zap.SugaredLogger
	waitLog  rate.Sometimes
	onWaited func(time.Duration)
}

// Option configures a Limiter
type Option func(*Limiter)

// WithPollInterval overrides the 100ms re-check interval
func WithPollInterval(d time.Duration) Option {
	return func(r *Limiter) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithLogger logs full-window waits, at most once every 5 seconds
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Limiter) {
		r.logger = logger.OrNop(l)
	}
}

// WithWaitObserver reports how long each Acquire blocked
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(r *Limiter) {
		r.onWaited = fn
	}
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(maxCallsPerMinute int, opts ...Option) *Limiter {
	return NewLimiterWithClock(maxCallsPerMinute, time.Now, opts...)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing)
func NewLimiterWithClock(maxCallsPerMinute int, timeNow func() time.Time, opts ...Option) *Limiter {
	initialCap := maxCallsPerMinute
	if initialCap > 1024 {
		initialCap = 1024
	}
	if initialCap < 0 {
		initialCap = 0
	}
	r := &Limiter{
		maxCallsPerMinute: maxCallsPerMinute,
		window:            60 * time.Second, // 1 minute window
		pollInterval:      DefaultPollInterval,
		callTimes:         make([]time.Time, 0, initialCap),
		timeNow:           timeNow,
		logger:            zap.NewNop().Sugar(),
		waitLog:           rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow checks if a call is allowed under rate limits and records it if so.
// Returns error if rate limit exceeded.
func (r *Limiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()

	// Remove expired call timestamps (outside the window)
	r.removeExpiredCalls(now)

	if len(r.callTimes) >= r.maxCallsPerMinute {
		err := errors.Newf("rate limit exceeded: %d calls per minute (limit: %d)",
			len(r.callTimes), r.maxCallsPerMinute)
		err = errors.WithDetail(err, fmt.Sprintf("Current calls in window: %d", len(r.callTimes)))
		if len(r.callTimes) > 0 {
			err = errors.WithDetail(err, fmt.Sprintf("Oldest permit frees in: %s",
				r.callTimes[0].Add(r.window).Sub(now).Round(time.Millisecond)))
		}
		return err
	}

	r.callTimes = append(r.callTimes, now)
	return nil
}

// Acquire blocks until a permit is granted or ctx is done.
// A full window is backpressure, not failure: the only error is ctx.Err().
func (r *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	waited := false
	defer func() {
		if r.onWaited != nil {
			r.onWaited(time.Since(start))
		}
	}()

	for {
		if err := r.Allow(); err == nil {
			if waited {
				r.logger.Debugw("Permit granted after wait", logger.FieldDurationMS, time.Since(start).Milliseconds())
			}
			return nil
		}

		if !waited {
			waited = true
			r.waitLog.Do(func() {
				inWindow, _ := r.Stats()
				r.logger.Infow("Request ceiling reached, waiting for a permit",
					"in_window", inWindow,
					"limit", r.maxCallsPerMinute)
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

// removeExpiredCalls removes call timestamps that are outside the sliding window
// Must be called with lock held
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	// Timestamps are appended in order, so expired ones form a prefix
	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.callTimes = r.callTimes[expired:]
}

// Reset clears the rate limiter state
func (r *Limiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.callTimes = r.callTimes[:0]
}

// Limit returns the configured ceiling
func (r *Limiter) Limit() int {
	return r.maxCallsPerMinute
}

// Stats returns current rate limiter statistics
func (r *Limiter) Stats() (callsInWindow int, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	callsInWindow = len(r.callTimes)
	remaining = r.maxCallsPerMinute - callsInWindow
	if remaining < 0 {
		remaining = 0
	}

	return callsInWindow, remaining
}
