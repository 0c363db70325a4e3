package runnable

import (
	"context"
	"errors"
	"fmt"
	"maps"
)

// LambdaFunc is the function wrapped by a Lambda node.
type LambdaFunc func(ctx context.Context, input any) (any, error)

// Lambda wraps an arbitrary unary function.
type Lambda struct {
	name string
	fn   LambdaFunc
}

// NewLambda creates a node that returns fn(input).
func NewLambda(name string, fn LambdaFunc) *Lambda {
	return &Lambda{name: name, fn: fn}
}

// Func creates a Lambda from a typed function.
// A nil input is passed as the zero value of In.
func Func[In, Out any](name string, fn func(ctx context.Context, input In) (Out, error)) *Lambda {
	return NewLambda(name, func(ctx context.Context, input any) (any, error) {
		if input == nil {
			return fn(ctx, *new(In))
		}

		typedInput, ok := input.(In)
		if !ok {
			return nil, fmt.Errorf("%w: expected %T, got %T", ErrInvalidInput, *new(In), input)
		}
		return fn(ctx, typedInput)
	})
}

// Name returns the node's identifier.
func (l *Lambda) Name() string {
	return l.name
}

// Invoke calls the wrapped function.
// A failure that is already a *NodeError passes through unchanged.
func (l *Lambda) Invoke(ctx context.Context, input any) (any, error) {
	out, err := l.fn(ctx, input)
	if err != nil {
		var ne *NodeError
		if errors.As(err, &ne) {
			return nil, err
		}
		return nil, newError(InvocationFailed, l.name, err)
	}
	return out, nil
}

// Passthrough returns a node that outputs its input unchanged.
// If fn is non-nil it is called first and its failure aborts the node.
func Passthrough(name string, fn func(ctx context.Context, input any) error) *Lambda {
	return NewLambda(name, func(ctx context.Context, input any) (any, error) {
		if fn != nil {
			if err := fn(ctx, input); err != nil {
				return nil, err
			}
		}
		return input, nil
	})
}

// Assign returns a node that runs fields against a map input and merges the
// results into a copy of that map. Existing keys are overwritten.
func Assign(name string, fields map[string]Node, opts ...Option) (*Lambda, error) {
	par, err := NewParallel(name, fields, opts...)
	if err != nil {
		return nil, err
	}

	return Func(name, func(ctx context.Context, in map[string]any) (map[string]any, error) {
		if in == nil {
			return nil, fmt.Errorf("%w: assign requires a map input", ErrInvalidInput)
		}

		out, err := par.Invoke(ctx, in)
		if err != nil {
			return nil, err
		}

		merged := maps.Clone(in)
		maps.Copy(merged, out.(map[string]any))
		return merged, nil
	}), nil
}
