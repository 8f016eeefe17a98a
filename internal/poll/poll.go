// Package poll re-reads an eventually consistent resource until a predicate
// holds or a fixed number of reads is spent.
package poll

import (
	"context"
	"time"

	"genpipe/internal/infra"
	"genpipe/internal/metrics"
)

// Result is the last observation of a poll.
type Result[T any] struct {
	Value     T
	Attempts  int
	Satisfied bool
	LastErr   error
}

type config struct {
	logger  *infra.Logger
	metrics *metrics.Collector
	sleep   func(context.Context, time.Duration) error
}

// Option customizes Until.
type Option func(*config)

func WithLogger(l *infra.Logger) Option {
	return func(c *config) { c.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *config) { c.metrics = m }
}

// WithSleep replaces the wait between reads.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *config) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// Until calls read at most maxAttempts times, delay apart, and stops at the
// first value for which pred is true. Exhaustion is not an error: the last
// value is returned with Satisfied false. Read errors count as unsatisfied
// reads. The error is non-nil only when ctx ends first.
func Until[T any](ctx context.Context, read func(context.Context) (T, error), pred func(T) bool, maxAttempts int, delay time.Duration, opts ...Option) (Result[T], error) {
	cfg := config{sleep: infra.SleepContext}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := infra.LoggerOrNop(cfg.logger)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var res Result[T]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := cfg.sleep(ctx, delay); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt
		value, err := read(ctx)
		if err != nil {
			res.LastErr = err
			cfg.metrics.PollRead(false)
			log.Debug().Err(err).Int("attempt", attempt).Msg("poll: read failed")
			continue
		}
		res.Value = value
		res.LastErr = nil
		if pred(value) {
			res.Satisfied = true
			cfg.metrics.PollRead(true)
			return res, nil
		}
		cfg.metrics.PollRead(false)
	}
	log.Debug().Int("attempts", res.Attempts).Msg("poll: predicate never satisfied")
	return res, nil
}
