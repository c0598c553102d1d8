// Package ratelimit spaces out requests to the registry API.
//
// The registry publishes no rate-limit headers, so the exporter applies a
// fixed, configured delay before every request. The delay is enforced by
// a Throttle shared by all callers: waits are serialized, which makes the
// delay a per-call sleep for a sequential run and a shared rate limit
// (one request per delay) if callers ever run concurrently.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for request throttling.
var (
	throttleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mit_throttle_waits_total",
		Help: "Total number of pre-request throttle waits",
	})

	throttleWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mit_throttle_wait_seconds_total",
		Help: "Total time spent waiting in the request throttle",
	})
)

// Throttle delays every request by a fixed amount.
type Throttle struct {
	delay  time.Duration
	logger zerolog.Logger

	mu sync.Mutex
}

// NewThrottle creates a throttle that waits delay before each request.
// A zero delay disables waiting.
func NewThrottle(delay time.Duration, logger zerolog.Logger) *Throttle {
	if delay < 0 {
		delay = 0
	}
	return &Throttle{
		delay:  delay,
		logger: logger,
	}
}

// Delay returns the configured wait.
func (t *Throttle) Delay() time.Duration {
	return t.delay
}

// Wait blocks for the configured delay or until ctx is done. Concurrent
// callers are released one delay apart.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	if t.delay == 0 {
		return nil
	}

	start := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	timer := time.NewTimer(t.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("throttle: %w", ctx.Err())
	case <-timer.C:
	}

	waited := time.Since(start)
	throttleWaitsTotal.Inc()
	throttleWaitSeconds.Add(waited.Seconds())
	t.logger.Debug().Dur("waited", waited).Msg("Throttle released request")
	return nil
}
