// Package batch maps a node over many inputs with a bounded worker pool.
package batch

import (
	"context"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/runnable"
)

// DefaultConcurrency is the worker count used when none is configured.
const DefaultConcurrency = 10

// Option configures batch processing.
type Option func(*options)

type options struct {
	maxConcurrency int
}

// WithConcurrency sets the maximum concurrent workers. Values below 1 run
// items sequentially.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

func buildOptions(opts []Option) options {
	o := options{maxConcurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Invoke runs node against every input and returns the outputs in input
// order. The first failure cancels outstanding items and is reported with the
// index of the failing item.
func Invoke(ctx context.Context, node runnable.Node, inputs []any, opts ...Option) ([]any, error) {
	o := buildOptions(opts)
	if o.maxConcurrency <= 1 {
		return invokeSequential(ctx, node, inputs)
	}
	return invokeConcurrent(ctx, node, inputs, o.maxConcurrency)
}

func invokeSequential(ctx context.Context, node runnable.Node, inputs []any) ([]any, error) {
	results := make([]any, len(inputs))

	for i, item := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, itemError(node.Name(), i, err)
		}

		result, err := node.Invoke(ctx, item)
		if err != nil {
			return nil, itemError(node.Name(), i, err)
		}
		results[i] = result
	}

	return results, nil
}

func invokeConcurrent(ctx context.Context, node runnable.Node, inputs []any, workers int) ([]any, error) {
	g, ctx := errgroup.WithContext(ctx)

	// Each worker writes only its own slots.
	results := make([]any, len(inputs))

	work := make(chan int, len(inputs))
	for i := range inputs {
		work <- i
	}
	close(work)

	for w := 0; w < workers && w < len(inputs); w++ {
		g.Go(func() error {
			for idx := range work {
				if err := ctx.Err(); err != nil {
					return itemError(node.Name(), idx, err)
				}

				result, err := node.Invoke(ctx, inputs[idx])
				if err != nil {
					return itemError(node.Name(), idx, err)
				}
				results[idx] = result
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func itemError(name string, idx int, err error) error {
	kind, ok := runnable.KindOf(err)
	if !ok {
		kind = runnable.InvocationFailed
	}
	return &runnable.NodeError{Kind: kind, Node: name, Index: idx, Cause: err}
}

// Each is a node that applies a bound node to every element of a slice input.
type Each struct {
	name  string
	bound runnable.Node
	opts  []Option
}

// NewEach creates a node mapping bound over slice inputs.
func NewEach(name string, bound runnable.Node, opts ...Option) (*Each, error) {
	if bound == nil {
		return nil, fmt.Errorf("%w: each %q", runnable.ErrNilNode, name)
	}
	return &Each{name: name, bound: bound, opts: opts}, nil
}

// Name returns the node's identifier.
func (e *Each) Name() string {
	return e.name
}

// Invoke maps the bound node over input, which must be a slice or array.
// The output is a []any in input order.
func (e *Each) Invoke(ctx context.Context, input any) (any, error) {
	items, err := toSlice(input)
	if err != nil {
		return nil, &runnable.NodeError{Kind: runnable.InvocationFailed, Node: e.name, Index: -1, Cause: err}
	}

	out, err := Invoke(ctx, e.bound, items, e.opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toSlice(input any) ([]any, error) {
	if items, ok := input.([]any); ok {
		return items, nil
	}
	if input == nil {
		return []any{}, nil
	}

	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: each expects a slice, got %T", runnable.ErrInvalidInput, input)
	}

	items := make([]any, v.Len())
	for i := range items {
		items[i] = v.Index(i).Interface()
	}
	return items, nil
}
