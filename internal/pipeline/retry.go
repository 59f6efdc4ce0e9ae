package pipeline

import (
	"context"
	"math"
	"time"

	"datanerd/internal/config"
	"datanerd/internal/types"
)

// RetryPolicy controls how failed stages are retried with exponential
// backoff. Only transient failures are retried; validation, fatal, and
// cancellation errors surface immediately.
type RetryPolicy struct {
	MaxRetries int // retries after the first attempt
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns a RetryPolicy with sensible defaults:
// 2 retries, 500ms base delay, 2x multiplier, 8s max delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		Multiplier: 2.0,
		MaxDelay:   8 * time.Second,
	}
}

// PolicyFromConfig builds the stage retry policy from application config.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.Pipeline.MaxStageRetries >= 0 {
		p.MaxRetries = cfg.Pipeline.MaxStageRetries
	}
	if d := cfg.BackoffBaseDuration(); d > 0 {
		p.BaseDelay = d
	}
	if cfg.Pipeline.BackoffFactor > 1 {
		p.Multiplier = cfg.Pipeline.BackoffFactor
	}
	if d := cfg.BackoffCapDuration(); d > 0 {
		p.MaxDelay = d
	}
	return p
}

// ShouldRetry reports whether the error warrants another attempt.
// attempt is 1-indexed: the first call that failed was attempt 1.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt > p.MaxRetries {
		return false
	}
	return types.IsTransient(err)
}

// NextDelay returns the backoff delay after the given attempt (1-indexed).
// The delay is BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Sleep waits out the backoff delay unless the context ends first.
func (p RetryPolicy) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return types.ClassifyContextErr(ctx.Err())
	case <-timer.C:
		return nil
	}
}
