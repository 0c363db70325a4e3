package middleware

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentstation/runnable"
)

// Timeout bounds each invocation to duration. The node keeps running in the
// background if it ignores its context, but its result is discarded.
func Timeout(duration time.Duration) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			timeoutCtx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			type reply struct {
				result any
				err    error
			}
			done := make(chan reply, 1)

			go func() {
				result, err := node.Invoke(timeoutCtx, input)
				done <- reply{result, err}
			}()

			select {
			case r := <-done:
				return r.result, r.err
			case <-timeoutCtx.Done():
				return nil, &runnable.NodeError{
					Kind:  runnable.InvocationFailed,
					Node:  node.Name(),
					Index: -1,
					Cause: fmt.Errorf("timed out after %v: %w", duration, timeoutCtx.Err()),
				}
			}
		})
	}
}

// RateLimit limits invocations to rps per second with the given burst. The
// limiter is shared by every node the middleware is applied to.
func RateLimit(rps float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, &runnable.NodeError{
					Kind:  runnable.InvocationFailed,
					Node:  node.Name(),
					Index: -1,
					Cause: fmt.Errorf("rate limit: %w", err),
				}
			}
			return node.Invoke(ctx, input)
		})
	}
}

// Validation adds input/output validation.
func Validation(validateInput, validateOutput func(any) error) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			if validateInput != nil {
				if err := validateInput(input); err != nil {
					return nil, &runnable.NodeError{
						Kind:  runnable.InvocationFailed,
						Node:  node.Name(),
						Index: -1,
						Cause: fmt.Errorf("input validation failed: %w", err),
					}
				}
			}

			output, err := node.Invoke(ctx, input)
			if err != nil {
				return nil, err
			}

			if validateOutput != nil {
				if err := validateOutput(output); err != nil {
					return nil, &runnable.NodeError{
						Kind:  runnable.InvocationFailed,
						Node:  node.Name(),
						Index: -1,
						Cause: fmt.Errorf("output validation failed: %w", err),
					}
				}
			}
			return output, nil
		})
	}
}

// Transform adds input/output transformation.
func Transform(transformInput, transformOutput func(any) any) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			if transformInput != nil {
				input = transformInput(input)
			}

			output, err := node.Invoke(ctx, input)
			if err != nil {
				return nil, err
			}

			if transformOutput != nil {
				output = transformOutput(output)
			}
			return output, nil
		})
	}
}

// ErrorHandler adds custom error handling. If handler returns nil the
// failure is swallowed and the node's partial result is returned.
func ErrorHandler(handler func(error) error) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			result, err := node.Invoke(ctx, input)
			if err != nil {
				if handledErr := handler(err); handledErr != nil {
					return nil, handledErr
				}
				return result, nil
			}
			return result, nil
		})
	}
}
