package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	mitRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mit_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	mitRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mit_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	mitRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mit_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// BackoffFunc returns the extra wait after the given failed attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// RetryEvent describes a failed attempt that will be retried.
type RetryEvent struct {
	Attempt int
	Err     error
	Class   ErrorClass
	Backoff time.Duration
}

// RetryPolicy decides how often an operation is attempted.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Zero or negative means retry until success or cancellation.
	MaxAttempts int

	// Backoff is waited between attempts. Nil means no extra wait.
	Backoff BackoffFunc

	// OnRetry is called before every retry.
	OnRetry func(RetryEvent)
}

// Bounded returns a policy that gives up after attempts tries.
func Bounded(attempts int, backoff BackoffFunc) RetryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{MaxAttempts: attempts, Backoff: backoff}
}

// Unbounded returns a policy that never gives up.
func Unbounded(backoff BackoffFunc) RetryPolicy {
	return RetryPolicy{Backoff: backoff}
}

// IsUnbounded reports whether the policy retries forever.
func (p RetryPolicy) IsUnbounded() bool {
	return p.MaxAttempts <= 0
}

// ExponentialBackoff doubles the wait after each failure, starting at
// initial and capped at max, with ±20% jitter. A zero initial disables it;
// a max below initial keeps the wait constant.
func ExponentialBackoff(initial, max time.Duration) BackoffFunc {
	if max < initial {
		max = initial
	}
	return func(attempt int) time.Duration {
		if initial <= 0 {
			return 0
		}
		backoff := initial
		for i := 1; i < attempt && backoff < max; i++ {
			backoff *= 2
		}
		if backoff > max {
			backoff = max
		}
		return time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
	}
}

// Retry runs fn until it succeeds, the policy gives up, or ctx is done.
// It returns nil, an error wrapping ErrRetryExhausted and the last
// failure, or an error wrapping ErrContextCancelled.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		// Cancellation surfaces through the fetch as well; never retry it.
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		lastErr = err
		errorClass := ClassOf(err)

		if !policy.IsUnbounded() && attempt >= policy.MaxAttempts {
			break
		}

		mitRetriesTotal.WithLabelValues(string(errorClass)).Inc()

		var backoff time.Duration
		if policy.Backoff != nil {
			backoff = policy.Backoff(attempt)
		}

		if policy.OnRetry != nil {
			policy.OnRetry(RetryEvent{Attempt: attempt, Err: err, Class: errorClass, Backoff: backoff})
		}

		log.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("Retrying request")

		if backoff <= 0 {
			continue
		}
		mitRetryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(backoff.Seconds())

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	errorClass := ClassOf(lastErr)
	mitRetryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	log.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", policy.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, policy.MaxAttempts, lastErr)
}
