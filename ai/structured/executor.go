// Package structured issues requests to the generative service and decodes
// the replies into typed values.
//
// One logical request is at most MaxRetries attempts. Every attempt takes a
// rate-limit permit, runs detached under its own timeout and has its reply
// decoded; a decode failure counts as a failed attempt. Between attempts the
// executor sleeps 1s, 2s, 4s and so on. Failures are marked so callers can
// classify them with errors.Is:
//
//	errors.ErrRequestTimeout    the attempt hit its deadline
//	errors.ErrRequestFailed     the service errored or the reply did not decode
//	errors.ErrExhaustedRetries  every attempt failed (also carries the last class)
package structured

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ontogen/errors"
	"github.com/teranos/ontogen/logger"
)

// Defaults for one logical request
const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Second
)

// Sleeper waits d or until ctx ends
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor runs logical requests against a Generator
type Executor struct {
	gen            Generator
	limiter        Permitter
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	sleep          Sleeper
	now            func() time.Time
	recorders      []Recorder
	logger         *zap.SugaredLogger
}

// Option configures an Executor
type Option func(*Executor)

// WithTimeout sets the per-attempt deadline
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxRetries sets the total number of attempts
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithInitialBackoff sets the delay before the second attempt; it doubles after each retry
func WithInitialBackoff(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.initialBackoff = d
		}
	}
}

// WithSleeper replaces the backoff sleep (tests)
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		e.sleep = s
	}
}

// WithClock replaces the clock used for attempt timestamps (tests)
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithRecorder adds an attempt recorder. May be given more than once.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorders = append(e.recorders, r)
		}
	}
}

// WithLogger sets the executor logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) {
		e.logger = logger.OrNop(l)
	}
}

// NewExecutor creates an executor. The limiter is shared by every executor
// call in the process and is consulted before each attempt.
func NewExecutor(gen Generator, limiter Permitter, opts ...Option) *Executor {
	e := &Executor{
		gen:            gen,
		limiter:        limiter,
		timeout:        DefaultTimeout,
		maxRetries:     DefaultMaxRetries,
		initialBackoff: DefaultInitialBackoff,
		sleep:          sleepContext,
		now:            time.Now,
		logger:         zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Call runs req until decode accepts a reply or attempts run out.
//
// Cancelling ctx stops the request without further attempts and returns the
// context error unmarked.
func Call[T any](ctx context.Context, ex *Executor, req Request, decode func([]byte) (T, error)) (T, error) {
	var zero T
	backoff := ex.initialBackoff
	log := ex.logger.With(logger.FieldStep, req.Step)

	var lastErr error
	for attempt := 1; attempt <= ex.maxRetries; attempt++ {
		if err := ex.limiter.Acquire(ctx); err != nil {
			return zero, errors.Wrapf(err, "%s: waiting for request permit", req.Step)
		}

		value, err := runAttempt(ctx, ex, req, attempt, decode)
		if err == nil {
			if attempt > 1 {
				log.Infow("Request succeeded after retries", logger.FieldAttempt, attempt)
			}
			return value, nil
		}
		if ctx.Err() != nil {
			return zero, errors.Wrapf(ctx.Err(), "%s: cancelled on attempt %d", req.Step, attempt)
		}

		lastErr = err
		log.Warnw("Request attempt failed",
			logger.FieldAttempt, attempt,
			logger.FieldMaxAttempts, ex.maxRetries,
			logger.FieldError, err)

		if attempt == ex.maxRetries {
			break
		}

		log.Debugw("Backing off before retry", logger.FieldBackoff, backoff)
		if err := ex.sleep(ctx, backoff); err != nil {
			return zero, errors.Wrapf(err, "%s: cancelled during backoff", req.Step)
		}
		backoff *= 2
	}

	return zero, errors.Mark(
		errors.Wrapf(lastErr, "%s: giving up after %d attempts", req.Step, ex.maxRetries),
		errors.ErrExhaustedRetries,
	)
}

// runAttempt performs one attempt and classifies its failure
func runAttempt[T any](ctx context.Context, ex *Executor, req Request, number int, decode func([]byte) (T, error)) (T, error) {
	var zero T

	attemptCtx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()

	record := Attempt{
		Step:        req.Step,
		Number:      number,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Started:     ex.now(),
	}

	reply, err := RunDetached(attemptCtx, func(c context.Context) (*Reply, error) {
		return ex.gen.Generate(c, req)
	})
	record.Finished = ex.now()

	switch {
	case err != nil && ctx.Err() != nil:
		record.Outcome = OutcomeCancelled
		record.Err = ctx.Err()
		ex.record(ctx, record)
		return zero, ctx.Err()

	case err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		err = errors.Mark(
			errors.Wrapf(err, "attempt %d exceeded %s", number, ex.timeout),
			errors.ErrRequestTimeout,
		)
		record.Outcome = OutcomeTimeout
		record.Err = err
		ex.record(ctx, record)
		return zero, err

	case err != nil:
		err = errors.Mark(errors.Wrapf(err, "attempt %d", number), errors.ErrRequestFailed)
		record.Outcome = OutcomeFailed
		record.Err = err
		ex.record(ctx, record)
		return zero, err

	case reply == nil:
		err = errors.Mark(errors.Newf("attempt %d: empty reply", number), errors.ErrRequestFailed)
		record.Outcome = OutcomeFailed
		record.Err = err
		ex.record(ctx, record)
		return zero, err
	}

	record.Model = reply.Model
	usage := reply.Usage
	record.Usage = &usage

	value, err := decode(reply.Content)
	if err != nil {
		err = errors.Mark(
			errors.Wrapf(err, "attempt %d: reply does not match %s", number, req.Schema.Name),
			errors.ErrRequestFailed,
		)
		record.Outcome = OutcomeFailed
		record.Err = err
		ex.record(ctx, record)
		return zero, err
	}

	record.Outcome = OutcomeSuccess
	ex.record(ctx, record)
	return value, nil
}

func (e *Executor) record(ctx context.Context, attempt Attempt) {
	for _, r := range e.recorders {
		r.RecordAttempt(ctx, attempt)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
