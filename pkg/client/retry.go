package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"class"})
)

// RetryPolicy is an explicit retry rule: how many attempts, how long to wait
// between them, and which failures are worth another attempt.
//
// A failure Retryable rejects ends the call after that attempt, so
// MaxAttempts is an upper bound, not a guarantee. DefaultRetryPolicy
// rejects 401, 404 and every other 4xx except 408 and 429: those calls
// make exactly one attempt and return the classified error, not a
// *RetryExhaustedError.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Backoff is the fixed wait between a failed attempt and the next one.
	Backoff time.Duration

	// Retryable reports whether a failed attempt should be retried.
	// Nil means every failure is retried.
	Retryable func(err error) bool
}

// DefaultRetryPolicy returns the policy used by the fetch core. Connection
// errors, blank bodies, 408, 429, 503 and other 5xx are retried; other
// failures are returned at once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     10 * time.Second,
		Retryable: func(err error) bool {
			return shouldRetry(Classify(err))
		},
	}
}

// Do runs fn until it succeeds, a non-retryable error occurs, the context is
// cancelled, or MaxAttempts is reached. fn receives the 1-based attempt number.
// Exhaustion returns a *RetryExhaustedError wrapping the last failure; the
// final attempt never waits.
func (p RetryPolicy) Do(ctx context.Context, logger zerolog.Logger, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Request succeeded after retry")
			}
			return nil
		}
		lastErr = err
		class := Classify(err)

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", p.Backoff).
			Msg("Retrying request after backoff")

		if err := sleep(ctx, p.Backoff); err != nil {
			logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	class := Classify(lastErr)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	logger.Warn().
		Str("error_class", string(class)).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return &RetryExhaustedError{Attempts: attempts, Last: lastErr}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Pause waits for d as a courtesy delay between requests. It returns early
// with the context error if ctx is done.
func Pause(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}
