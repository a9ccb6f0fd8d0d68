package crawler

import (
	"context"
	"errors"
	"math"
	"time"
)

// BackoffPolicy describes bounded exponential retries without jitter, so the
// delay strictly grows with every attempt.
type BackoffPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
}

// DefaultBackoffPolicy mirrors the storefront-friendly defaults: two attempts,
// a two second first delay growing by half each time.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 2,
		Initial:     2 * time.Second,
		Multiplier:  1.5,
	}
}

// Normalize fills zero or invalid fields from the defaults.
func (p BackoffPolicy) Normalize() BackoffPolicy {
	def := DefaultBackoffPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Multiplier <= 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// Delay returns the wait after the failed attempt with 0-based index attempt.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt)))
}

// ShouldRetry decides whether another attempt follows after attempts tries
// ended in err.
func (p BackoffPolicy) ShouldRetry(err error, attempts int) bool {
	if err == nil || attempts >= p.MaxAttempts {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
