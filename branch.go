package runnable

import (
	"context"
	"fmt"
)

// Predicate decides whether a branch case applies to an input.
type Predicate func(ctx context.Context, input any) (bool, error)

// Case pairs a predicate with the node to run when it holds.
type Case struct {
	Predicate Predicate
	Node      Node
}

// When is shorthand for a Case whose predicate cannot fail. A nil cond
// yields a case that NewBranch rejects.
func When(cond func(input any) bool, n Node) Case {
	if cond == nil {
		return Case{Node: n}
	}
	return Case{
		Predicate: func(_ context.Context, input any) (bool, error) {
			return cond(input), nil
		},
		Node: n,
	}
}

// Branch runs the node of the first case whose predicate holds, or the
// default node when none do.
type Branch struct {
	name  string
	cases []Case
	def   Node
	opts  options
}

// NewBranch creates a branch from ordered cases and a default node.
func NewBranch(name string, cases []Case, def Node, opts ...Option) (*Branch, error) {
	if def == nil {
		return nil, ErrNoDefault
	}
	for i, c := range cases {
		if c.Predicate == nil || c.Node == nil {
			return nil, fmt.Errorf("%w: branch %q case %d", ErrNilNode, name, i)
		}
	}

	return &Branch{
		name:  name,
		cases: append([]Case(nil), cases...),
		def:   def,
		opts:  buildOptions(opts),
	}, nil
}

// Name returns the node's identifier.
func (b *Branch) Name() string {
	return b.name
}

// Invoke evaluates predicates strictly in order. A predicate is evaluated only
// if every earlier one returned false, and a predicate failure aborts the
// branch without consulting later cases or the default.
func (b *Branch) Invoke(ctx context.Context, input any) (any, error) {
	for i, c := range b.cases {
		ok, err := c.Predicate(ctx, input)
		if err != nil {
			b.opts.logger.Debug(ctx, "branch predicate failed", "name", b.name, "index", i, "error", err)
			ne := newError(PredicateFailed, b.name, err)
			ne.Index = i
			return nil, ne
		}
		if ok {
			return b.run(ctx, c.Node, input)
		}
	}
	return b.run(ctx, b.def, input)
}

func (b *Branch) run(ctx context.Context, n Node, input any) (any, error) {
	childCtx, end := b.opts.span(ctx, n.Name())
	defer end()
	return n.Invoke(childCtx, input)
}
