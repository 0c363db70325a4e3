package runnable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentstation/runnable/internal/retry"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// WithMaxAttempts sets the total number of attempts a Retry node makes.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithBackoff sets the base delay and the exponential multiplier.
// The wait after attempt n is base * multiplier^(n-1).
func WithBackoff(base time.Duration, multiplier float64) Option {
	return func(o *options) {
		o.baseDelay = base
		o.multiplier = multiplier
	}
}

// WithMaxDelay caps the delay before jitter.
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) {
		o.maxDelay = d
	}
}

// WithJitter adds a uniform random duration in [0, delay] to each wait.
func WithJitter(enabled bool) Option {
	return func(o *options) {
		o.jitter = enabled
	}
}

// RetryOn restricts retries to failures matching one of errs via errors.Is.
// Kinds are valid targets, so RetryOn(InvocationFailed) retries any failure
// raised by a wrapped function.
func RetryOn(errs ...error) Option {
	return func(o *options) {
		o.retryOn = append(o.retryOn, errs...)
	}
}

// RetryIf adds a predicate that marks failures as retryable.
func RetryIf(fn func(error) bool) Option {
	return func(o *options) {
		o.retryIf = fn
	}
}

// WithSleeper replaces the function used to wait between attempts.
func WithSleeper(fn SleepFunc) Option {
	return func(o *options) {
		o.sleep = fn
	}
}

// Retry re-invokes a child node on retryable failures.
//
// Each Invoke call is an independent state machine: it starts at attempt 1,
// returns on the first success, and stops on a non-retryable failure or when
// the attempt budget is spent. No state survives between calls.
type Retry struct {
	name   string
	node   Node
	policy retry.Policy
	opts   options
}

// NewRetry wraps node with retry behavior.
func NewRetry(name string, node Node, opts ...Option) (*Retry, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: retry %q", ErrNilNode, name)
	}

	o := buildOptions(opts)
	if o.maxAttempts < 1 {
		return nil, ErrInvalidAttempts
	}
	if o.sleep == nil {
		o.sleep = retry.Sleep
	}

	r := &Retry{
		name: name,
		node: node,
		opts: o,
		policy: retry.Policy{
			MaxAttempts: o.maxAttempts,
			BaseDelay:   o.baseDelay,
			Multiplier:  o.multiplier,
			MaxDelay:    o.maxDelay,
			Jitter:      o.jitter,
		},
	}
	r.policy.Retryable = r.retryable
	return r, nil
}

// Name returns the node's identifier.
func (r *Retry) Name() string {
	return r.name
}

// Policy returns the backoff policy derived from the node's options.
func (r *Retry) Policy() retry.Policy {
	return r.policy
}

// Invoke runs the child until it succeeds or retries are exhausted.
//
// A non-retryable failure is returned unchanged. When the last allowed attempt
// fails, that failure is returned with its kind intact, annotated with the
// attempt count. errors.Is(err, RetriesExhausted) reports this case.
func (r *Retry) Invoke(ctx context.Context, input any) (any, error) {
	for attempt := 1; ; attempt++ {
		out, err := r.node.Invoke(ctx, input)
		if err == nil {
			return out, nil
		}
		if !r.policy.IsRetryable(err) {
			return nil, err
		}
		if attempt >= r.policy.MaxAttempts {
			r.opts.logger.Error(ctx, "retries exhausted", "name", r.name, "attempts", attempt, "error", err)
			ne := wrap(r.name, -1, err)
			ne.Attempt = attempt
			ne.exhausted = true
			return nil, ne
		}

		delay := r.policy.Backoff(attempt)
		r.opts.logger.Debug(ctx, "retrying node",
			"name", r.name,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		if serr := r.opts.sleep(ctx, delay); serr != nil {
			ne := wrap(r.name, -1, fmt.Errorf("retry wait: %w (last failure: %w)", serr, err))
			ne.Attempt = attempt
			return nil, ne
		}
	}
}

func (r *Retry) retryable(err error) bool {
	if len(r.opts.retryOn) == 0 && r.opts.retryIf == nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	for _, target := range r.opts.retryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return r.opts.retryIf != nil && r.opts.retryIf(err)
}
