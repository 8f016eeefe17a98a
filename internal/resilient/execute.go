// Package resilient runs short remote mutations with a per-attempt timeout,
// error classification and bounded exponential backoff.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/metrics"
)

const (
	DefaultMaxAttempts = 2
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultTimeout     = 15 * time.Second
)

// Operation performs exactly one attempt.
type Operation[T any] func(ctx context.Context, a Attempt) (T, error)

// Outcome describes a successful execution.
type Outcome[T any] struct {
	Value          T
	Attempts       int
	AlreadyDone    bool
	IdempotencyKey string
}

// Options tune one execution. Zero values take the package defaults.
type Options struct {
	Name        string
	MaxAttempts int
	BackoffBase time.Duration
	Timeout     time.Duration
	Classify    func(error) domain.Class
	OnStatus    func(Status)
	Metrics     *metrics.Collector
	Logger      *infra.Logger
	Sleep       func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "mutation"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Classify == nil {
		o.Classify = domain.Classify
	}
	if o.Sleep == nil {
		o.Sleep = infra.SleepContext
	}
	o.Logger = infra.LoggerOrNop(o.Logger)
	return o
}

// ShouldRetry reports whether a failure of class c on attempt (1-based) may
// be followed by another attempt.
func ShouldRetry(c domain.Class, attempt, maxAttempts int) bool {
	return c.Retryable() && attempt < maxAttempts
}

// Backoff returns the delay schedule: base, 2*base, 4*base...
func Backoff(base time.Duration, maxAttempts int) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = base << min(max(maxAttempts, 1), 16)
	b.Reset()
	return b
}

var tracer = otel.Tracer("genpipe/resilient")

// Execute runs op until it succeeds, fails with a non-retryable class, or
// exhausts opts.MaxAttempts. Terminal failures are *domain.OpError; caller
// cancellation returns the context error.
//
// An attempt that outlives its timeout is abandoned, not awaited. An op that
// ignores its ctx may still be running when the next attempt starts; both
// carry the same idempotency key.
func Execute[T any](ctx context.Context, action *Action, op Operation[T], opts Options) (Outcome[T], error) {
	opts = opts.withDefaults()
	if action == nil {
		action = NewAction(opts.Name)
	}
	key := action.ensureKey()
	log := opts.Logger.With().Str("operation", opts.Name).Str("idempotency_key", key).Logger()

	ctx, span := tracer.Start(ctx, "resilient."+opts.Name, trace.WithAttributes(
		attribute.String("idempotency_key", key),
		attribute.Int("max_attempts", opts.MaxAttempts),
	))
	defer span.End()
	start := time.Now()
	defer func() { opts.Metrics.ObserveOperation(opts.Name, time.Since(start)) }()

	report := func(s Status) {
		s.MaxAttempts = opts.MaxAttempts
		action.setStatus(s)
		if opts.OnStatus != nil {
			opts.OnStatus(s)
		}
	}

	bo := Backoff(opts.BackoffBase, opts.MaxAttempts)
	var (
		lastErr   error
		lastClass domain.Class
		attempt   int
	)
	for attempt = 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			report(Status{State: StateFailed, Attempt: attempt - 1, Err: err})
			return Outcome[T]{Attempts: attempt - 1}, err
		}
		report(Status{State: StateAttempting, Attempt: attempt})

		value, err := runAttempt(ctx, op, Attempt{Number: attempt, IdempotencyKey: key}, opts.Timeout)
		if err == nil {
			opts.Metrics.RecordAttempt(opts.Name, metrics.OutcomeSuccess)
			report(Status{State: StateSucceeded, Attempt: attempt})
			span.SetAttributes(attribute.Int("attempts", attempt))
			log.Debug().Int("attempt", attempt).Msg("resilient: succeeded")
			return Outcome[T]{Value: value, Attempts: attempt, IdempotencyKey: key}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			report(Status{State: StateFailed, Attempt: attempt, Err: ctxErr})
			span.SetStatus(codes.Error, ctxErr.Error())
			return Outcome[T]{Attempts: attempt}, ctxErr
		}

		class := opts.Classify(err)
		if class == domain.ClassAlreadyDone {
			opts.Metrics.RecordAttempt(opts.Name, metrics.OutcomeAlreadyDone)
			report(Status{State: StateSucceeded, Attempt: attempt, AlreadyDone: true})
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.Bool("already_done", true))
			log.Info().Int("attempt", attempt).Msg("resilient: server reports action already applied")
			return Outcome[T]{Value: value, Attempts: attempt, AlreadyDone: true, IdempotencyKey: key}, nil
		}
		lastErr, lastClass = err, class
		if !ShouldRetry(class, attempt, opts.MaxAttempts) {
			break
		}

		delay := bo.NextBackOff()
		opts.Metrics.RecordAttempt(opts.Name, metrics.OutcomeRetry)
		report(Status{State: StateRetrying, Attempt: attempt, Delay: delay, Err: err})
		log.Warn().Err(err).
			Int("attempt", attempt).
			Str("class", class.String()).
			Dur("delay", delay).
			Msg("resilient: attempt failed, retrying")
		if err := opts.Sleep(ctx, delay); err != nil {
			report(Status{State: StateFailed, Attempt: attempt, Err: err})
			span.SetStatus(codes.Error, err.Error())
			return Outcome[T]{Attempts: attempt}, err
		}
	}
	if attempt > opts.MaxAttempts {
		attempt = opts.MaxAttempts
	}

	opErr := &domain.OpError{
		Class:     lastClass,
		Status:    domain.StatusOf(lastErr),
		Message:   domain.HumanMessage(lastErr),
		Attempts:  attempt,
		Exhausted: lastClass.Retryable() && attempt >= opts.MaxAttempts,
		Err:       lastErr,
	}
	opts.Metrics.RecordAttempt(opts.Name, metrics.OutcomeFailed)
	report(Status{State: StateFailed, Attempt: attempt, Err: opErr})
	span.RecordError(opErr)
	span.SetStatus(codes.Error, opErr.Error())
	log.Error().Err(lastErr).Int("attempts", attempt).Str("class", lastClass.String()).Msg("resilient: gave up")
	return Outcome[T]{Attempts: attempt}, opErr
}

func runAttempt[T any](ctx context.Context, op Operation[T], a Attempt, timeout time.Duration) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := op(attemptCtx, a)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return r.value, fmt.Errorf("%w: %w", domain.ErrTimeout, r.err)
		}
		return r.value, r.err
	case <-attemptCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %s", domain.ErrTimeout, timeout)
	}
}
