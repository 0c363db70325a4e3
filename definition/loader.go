package definition

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/batch"
	"github.com/agentstation/runnable/fallback"
	"github.com/agentstation/runnable/middleware"
)

// Loader turns definitions into node trees.
type Loader struct {
	registry *Registry
	opts     []runnable.Option
	logger   runnable.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithNodeOptions passes options to every composite node the loader builds.
func WithNodeOptions(opts ...runnable.Option) LoaderOption {
	return func(l *Loader) {
		l.opts = append(l.opts, opts...)
	}
}

// WithLoaderLogger sets the logger used by fallback nodes.
func WithLoaderLogger(logger runnable.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader that resolves lambda ops in registry.
func NewLoader(registry *Registry, opts ...LoaderOption) *Loader {
	l := &Loader{registry: registry}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the loader's op registry.
func (l *Loader) Registry() *Registry {
	return l.registry
}

// Load parses, validates and builds a document.
func (l *Loader) Load(data []byte) (runnable.Node, error) {
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return l.Build(def)
}

// LoadFile parses, validates and builds the document at path.
func (l *Loader) LoadFile(path string) (runnable.Node, error) {
	def, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return l.Build(def)
}

// Build validates def and builds its node tree. Unnamed nodes are named
// after their position under the root, e.g. "pipeline.steps[1]".
func (l *Loader) Build(def *Definition) (runnable.Node, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	name := def.Node.Name
	if name == "" {
		name = def.Name
	}
	return l.build(def.Node, name)
}

func (l *Loader) build(n *NodeDef, name string) (runnable.Node, error) {
	if n.Name != "" {
		name = n.Name
	}

	node, err := l.buildType(n, name)
	if err != nil {
		return nil, err
	}

	if n.Timeout != "" {
		d, err := time.ParseDuration(n.Timeout)
		if err != nil {
			return nil, invalid(name, "invalid timeout: %v", err)
		}
		node = middleware.Apply(node, middleware.Timeout(d))
	}
	return node, nil
}

func (l *Loader) buildType(n *NodeDef, name string) (runnable.Node, error) {
	switch n.Type {
	case TypeLambda:
		return l.registry.Build(n.Op, name, n.Config)

	case TypePassthrough:
		return runnable.Passthrough(name, func(context.Context, any) error { return nil }), nil

	case TypeSequence:
		steps := make([]runnable.Node, len(n.Steps))
		for i, step := range n.Steps {
			child, err := l.build(step, fmt.Sprintf("%s.steps[%d]", name, i))
			if err != nil {
				return nil, err
			}
			steps[i] = child
		}
		return node(runnable.NewSequence(name, steps, l.opts...))

	case TypeParallel:
		keys := make([]string, 0, len(n.Branches))
		for key := range n.Branches {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		branches := make(map[string]runnable.Node, len(keys))
		for _, key := range keys {
			child, err := l.build(n.Branches[key], name+"."+key)
			if err != nil {
				return nil, err
			}
			branches[key] = child
		}
		return node(runnable.NewParallel(name, branches, l.composite(n)...))

	case TypeBranch:
		cases := make([]runnable.Case, len(n.Cases))
		for i, c := range n.Cases {
			caseName := fmt.Sprintf("%s.cases[%d]", name, i)
			pred, err := predicate(caseName, c)
			if err != nil {
				return nil, err
			}
			child, err := l.build(c.Node, caseName)
			if err != nil {
				return nil, err
			}
			cases[i] = runnable.Case{Predicate: pred, Node: child}
		}
		def, err := l.build(n.Default, name+".default")
		if err != nil {
			return nil, err
		}
		return node(runnable.NewBranch(name, cases, def, l.opts...))

	case TypeRetry:
		child, err := l.build(n.Node, name+".node")
		if err != nil {
			return nil, err
		}
		opts, err := retryOptions(name, n.Retry)
		if err != nil {
			return nil, err
		}
		return node(runnable.NewRetry(name, child, append(opts, l.opts...)...))

	case TypeEach:
		child, err := l.build(n.Node, name+".node")
		if err != nil {
			return nil, err
		}
		var opts []batch.Option
		if n.Concurrency > 0 {
			opts = append(opts, batch.WithConcurrency(n.Concurrency))
		}
		return node(batch.NewEach(name, child, opts...))

	case TypeFallback:
		primary, err := l.build(n.Node, name+".node")
		if err != nil {
			return nil, err
		}
		alts := make([]runnable.Node, len(n.Alternatives))
		for i, alt := range n.Alternatives {
			if alts[i], err = l.build(alt, fmt.Sprintf("%s.alternatives[%d]", name, i)); err != nil {
				return nil, err
			}
		}
		var opts []fallback.Option
		if l.logger != nil {
			opts = append(opts, fallback.WithLogger(l.logger))
		}
		return node(fallback.New(name, primary, alts, opts...))

	default:
		return nil, invalid(name, "unknown type %q", n.Type)
	}
}

func (l *Loader) composite(n *NodeDef) []runnable.Option {
	opts := append([]runnable.Option(nil), l.opts...)
	if n.Concurrency > 0 {
		opts = append(opts, runnable.WithMaxConcurrency(n.Concurrency))
	}
	return opts
}

func retryOptions(name string, r *RetryDef) ([]runnable.Option, error) {
	if r == nil {
		return nil, nil
	}

	var opts []runnable.Option
	if r.MaxAttempts > 0 {
		opts = append(opts, runnable.WithMaxAttempts(r.MaxAttempts))
	}
	if r.Delay != "" || r.Multiplier > 0 {
		base, mult := 100*time.Millisecond, 2.0
		if r.Delay != "" {
			d, err := time.ParseDuration(r.Delay)
			if err != nil {
				return nil, invalid(name, "invalid delay: %v", err)
			}
			base = d
		}
		if r.Multiplier > 0 {
			mult = r.Multiplier
		}
		opts = append(opts, runnable.WithBackoff(base, mult))
	}
	if r.MaxDelay != "" {
		d, err := time.ParseDuration(r.MaxDelay)
		if err != nil {
			return nil, invalid(name, "invalid max_delay: %v", err)
		}
		opts = append(opts, runnable.WithMaxDelay(d))
	}
	if r.Jitter != nil {
		opts = append(opts, runnable.WithJitter(*r.Jitter))
	}
	for _, k := range r.RetryOn {
		kind, ok := kinds[k]
		if !ok {
			return nil, invalid(name, "unknown retry_on kind %q", k)
		}
		opts = append(opts, runnable.RetryOn(kind))
	}
	return opts, nil
}

var kinds = map[string]runnable.Kind{
	string(runnable.InvocationFailed): runnable.InvocationFailed,
	string(runnable.PredicateFailed):  runnable.PredicateFailed,
	string(runnable.RetriesExhausted): runnable.RetriesExhausted,
	string(runnable.AggregateFailure): runnable.AggregateFailure,
}

// node drops the concrete type so a failed constructor never yields a
// non-nil interface holding a nil pointer.
func node[T runnable.Node](n T, err error) (runnable.Node, error) {
	if err != nil {
		return nil, err
	}
	return n, nil
}
