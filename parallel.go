package runnable

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Parallel runs a set of named children against the same input and collects
// their outputs into a map keyed by name.
type Parallel struct {
	name     string
	branches map[string]Node
	keys     []string
	opts     options
}

// NewParallel creates a parallel node from a mapping of names to children.
func NewParallel(name string, branches map[string]Node, opts ...Option) (*Parallel, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("runnable: parallel %q requires at least one node", name)
	}

	p := &Parallel{
		name:     name,
		branches: make(map[string]Node, len(branches)),
		opts:     buildOptions(opts),
	}
	for key, n := range branches {
		if n == nil {
			return nil, fmt.Errorf("%w: parallel %q key %q", ErrNilNode, name, key)
		}
		p.branches[key] = n
		p.keys = append(p.keys, key)
	}
	slices.Sort(p.keys)

	return p, nil
}

// Name returns the node's identifier.
func (p *Parallel) Name() string {
	return p.name
}

// Keys returns the child names in ascending order.
func (p *Parallel) Keys() []string {
	return slices.Clone(p.keys)
}

// Invoke runs every child with the same input and waits for all of them.
// Output is returned only when every child succeeded. Otherwise the error
// reports the lowest failing key and carries every child failure in its cause.
func (p *Parallel) Invoke(ctx context.Context, input any) (any, error) {
	results := make([]any, len(p.keys))
	errs := make([]error, len(p.keys))

	// Siblings are not cancelled on failure: every child runs to completion so
	// no failure goes unobserved.
	var g errgroup.Group
	if p.opts.maxConcurrency > 0 {
		g.SetLimit(p.opts.maxConcurrency)
	}

	for i, key := range p.keys {
		n := p.branches[key]
		g.Go(func() error {
			childCtx, end := p.opts.span(ctx, key)
			defer end()

			out, err := n.Invoke(childCtx, input)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return p.collect(ctx, results, errs)
}

func (p *Parallel) collect(ctx context.Context, results []any, errs []error) (any, error) {
	var combined error
	first := -1
	for i, err := range errs {
		if err == nil {
			continue
		}
		if first < 0 {
			first = i
		}
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", p.keys[i], err))
	}

	if first >= 0 {
		p.opts.logger.Error(ctx, "parallel node failed",
			"name", p.name,
			"key", p.keys[first],
			"failures", len(multierr.Errors(combined)))

		ne := newError(AggregateFailure, p.name, combined)
		ne.Key = p.keys[first]
		return nil, ne
	}

	out := make(map[string]any, len(p.keys))
	for i, key := range p.keys {
		out[key] = results[i]
	}
	return out, nil
}
