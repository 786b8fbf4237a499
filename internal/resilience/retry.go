// Package resilience provides fault tolerance patterns
package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	apperrors "github.com/talkloop/talkloop/internal/errors"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2 // 20% jitter

	// Device acquisition: fixed 1s cadence, keep trying while the
	// session is active.
	DeviceRetryDelay = time.Second
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	Fixed        bool // fixed-delay backoff instead of exponential
	IsRetryable  func(error) bool
}

// DefaultRetryConfig returns standard exponential-backoff settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  apperrors.IsRetryable,
	}
}

// FixedRetryConfig returns fixed-delay settings: every attempt waits the
// same delay, so there is never more than one outstanding retry timer.
func FixedRetryConfig(delay time.Duration, maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:  maxRetries,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Fixed:       true,
		IsRetryable: apperrors.IsRetryable,
	}
}

// Retry executes fn with backoff. Returns the last error if all retries fail,
// or the context error if canceled mid-wait.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withRetryDefaults()
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if !cfg.IsRetryable(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}

		delay := cfg.delay(attempt)
		slog.Debug("retrying after error", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// delay calculates the wait before the next attempt.
func (c RetryConfig) delay(attempt int) time.Duration {
	if c.Fixed {
		return c.BaseDelay
	}
	d := c.BaseDelay << min(attempt, 6) // cap shift to prevent overflow
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	jitter := float64(d) * c.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(d) + jitter)
}

func (c RetryConfig) withRetryDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 && !c.Fixed {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = apperrors.IsRetryable
	}
	return c
}
