// Package retry implements exponential backoff with optional jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Policy defines retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration
	// Multiplier is the factor by which the delay grows per attempt.
	Multiplier float64
	// MaxDelay caps the delay before jitter (0 = uncapped).
	MaxDelay time.Duration
	// Jitter adds a uniform random duration in [0, delay] to each wait.
	Jitter bool
	// Retryable reports whether an error should trigger another attempt.
	// A nil Retryable retries everything except context cancellation.
	Retryable func(error) bool
}

// DefaultPolicy returns a sensible default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
		Jitter:      true,
	}
}

// Exponential creates an exponential backoff retry policy.
func Exponential(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Linear creates a retry policy with fixed delays.
func Linear(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   delay,
		Multiplier:  1.0,
		MaxDelay:    delay,
	}
}

// Delay returns the wait after the given failed attempt, before jitter:
// BaseDelay * Multiplier^(attempt-1), capped by MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Backoff returns Delay(attempt) plus jitter when enabled.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Delay(attempt)
	if !p.Jitter || d <= 0 {
		return d
	}
	j := rand.Int64N(int64(d) + 1)
	if int64(d) > math.MaxInt64-j {
		return time.Duration(math.MaxInt64)
	}
	return d + time.Duration(j)
}

// IsRetryable applies the policy's Retryable function.
func (p Policy) IsRetryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !isContextErr(err)
}

// Sleep waits for d or until ctx is done. Only the calling goroutine blocks.
func Sleep(ctx context.Context, d time.Duration) error {
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

// Do executes fn with the retry policy. Non-retryable errors are returned
// unchanged.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.IsRetryable(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("failed after %d attempts: %w", attempt, err)
		}
		if err := Sleep(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
