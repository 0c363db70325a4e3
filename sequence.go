package runnable

import (
	"context"
	"fmt"
)

// Sequence runs its children one after another, piping each output into the
// next child's input.
type Sequence struct {
	name  string
	nodes []Node
	opts  options
}

// NewSequence creates a sequence from an ordered list of nodes.
func NewSequence(name string, nodes []Node, opts ...Option) (*Sequence, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptySequence
	}
	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("%w: sequence %q index %d", ErrNilNode, name, i)
		}
	}

	return &Sequence{
		name:  name,
		nodes: append([]Node(nil), nodes...),
		opts:  buildOptions(opts),
	}, nil
}

// SequenceOf creates a sequence from a first node, zero or more middle nodes
// and a last node.
func SequenceOf(name string, first Node, middle []Node, last Node, opts ...Option) (*Sequence, error) {
	nodes := make([]Node, 0, len(middle)+2)
	nodes = append(nodes, first)
	nodes = append(nodes, middle...)
	nodes = append(nodes, last)
	return NewSequence(name, nodes, opts...)
}

// Pipe is like NewSequence but panics if the sequence is invalid.
// It is intended for pipelines assembled from static code.
func Pipe(name string, nodes ...Node) *Sequence {
	seq, err := NewSequence(name, nodes)
	if err != nil {
		panic(err)
	}
	return seq
}

// Name returns the node's identifier.
func (s *Sequence) Name() string {
	return s.name
}

// Nodes returns a copy of the sequence's children.
func (s *Sequence) Nodes() []Node {
	return append([]Node(nil), s.nodes...)
}

// Invoke runs each child in order. The first failure stops the sequence and
// is reported with the index of the failing child.
func (s *Sequence) Invoke(ctx context.Context, input any) (any, error) {
	current := input
	for i, n := range s.nodes {
		childCtx, end := s.opts.span(ctx, n.Name())
		out, err := n.Invoke(childCtx, current)
		end()
		if err != nil {
			s.opts.logger.Debug(ctx, "sequence step failed", "name", s.name, "index", i, "step", n.Name(), "error", err)
			return nil, wrap(s.name, i, err)
		}
		current = out
	}
	return current, nil
}
