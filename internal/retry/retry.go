// File: internal/retry/retry.go
// Brief: Bounded retry and polling combinators with backoff and jitter.

// Package retry provides the wait primitives shared by the control-plane
// client and the rollout: bounded attempts with exponential backoff for
// network calls, and bounded predicate polling for readiness and health
// checks.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil means every error is retryable.
	Retryable func(error) bool
}

// DefaultPolicy matches the control-plane call budget: three attempts
// with exponential backoff, retrying transport-shaped failures only.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     ExpBackoff(800*time.Millisecond, 20*time.Second),
		Retryable:   IsRetryable,
	}
}

// Do runs op under the policy. The last error is returned when attempts
// are exhausted or the error is terminal.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		delay := time.Duration(0)
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// ExpBackoff returns a backoff function doubling from base up to cap,
// with +/- 20% jitter. attempt is 1-based.
func ExpBackoff(base, cap time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		shift := attempt - 1
		if shift > 6 {
			shift = 6
		}
		d := base * time.Duration(1<<uint(shift))
		if d > cap {
			d = cap
		}
		return jitter(d)
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	f := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * f)
}

// ErrPollTimeout is returned by Poll when the predicate never held.
var ErrPollTimeout = errors.New("poll timed out")

// Poll invokes predicate every interval until it reports done, the
// budget elapses, or the context is cancelled. Predicate errors are
// swallowed between attempts; only the timeout or cancellation surface.
func Poll(ctx context.Context, interval, budget time.Duration, predicate func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(budget)
	for {
		done, err := predicate(ctx)
		if err == nil && done {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPollTimeout, err)
			}
			return ErrPollTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// IsRetryable classifies transport, timeout, rate-limit, and server-side
// failures as retryable; everything else is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "context deadline exceeded"):
		return true
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "eof"):
		return true
	case strings.Contains(msg, "temporarily unavailable"):
		return true
	case strings.Contains(msg, "status 5") || strings.Contains(msg, "server error") || strings.Contains(msg, "internal error"):
		return true
	default:
		return false
	}
}
