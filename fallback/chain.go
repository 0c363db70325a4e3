// Package fallback provides nodes that recover from failing children by
// trying alternatives or by short-circuiting an unhealthy dependency.
package fallback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/agentstation/runnable"
)

// Chain tries a primary node and then each alternative in order, returning
// the first success.
type Chain struct {
	name    string
	links   []runnable.Node
	handles func(error) bool
	logger  runnable.Logger
	metrics *metrics
}

type metrics struct {
	mu              sync.Mutex
	totalExecutions int64
	linkExecutions  map[string]int64
	linkSuccesses   map[string]int64
	linkFailures    map[string]int64
	linkLatency     map[string]time.Duration
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the chain's logger.
func WithLogger(l runnable.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// HandleIf restricts which failures move on to the next alternative. Other
// failures are returned unchanged.
func HandleIf(fn func(error) bool) Option {
	return func(c *Chain) {
		c.handles = fn
	}
}

// New creates a fallback chain. At least one alternative is required.
func New(name string, primary runnable.Node, alternatives []runnable.Node, opts ...Option) (*Chain, error) {
	if len(alternatives) == 0 {
		return nil, fmt.Errorf("fallback: chain %q requires at least one alternative", name)
	}

	links := make([]runnable.Node, 0, len(alternatives)+1)
	links = append(links, primary)
	links = append(links, alternatives...)
	for i, n := range links {
		if n == nil {
			return nil, fmt.Errorf("%w: fallback %q link %d", runnable.ErrNilNode, name, i)
		}
	}

	c := &Chain{
		name:   name,
		links:  links,
		logger: nopLogger{},
		metrics: &metrics{
			linkExecutions: make(map[string]int64),
			linkSuccesses:  make(map[string]int64),
			linkFailures:   make(map[string]int64),
			linkLatency:    make(map[string]time.Duration),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the node's identifier.
func (c *Chain) Name() string {
	return c.name
}

// Invoke runs each link until one succeeds. When every link fails the error
// is an AggregateFailure carrying every failure in link order.
func (c *Chain) Invoke(ctx context.Context, input any) (any, error) {
	c.metrics.mu.Lock()
	c.metrics.totalExecutions++
	c.metrics.mu.Unlock()

	var errs error
	for i, link := range c.links {
		if err := ctx.Err(); err != nil {
			return nil, &runnable.NodeError{
				Kind:  runnable.InvocationFailed,
				Node:  c.name,
				Index: i,
				Cause: multierr.Append(errs, err),
			}
		}

		start := time.Now()
		out, err := link.Invoke(ctx, input)
		c.record(link.Name(), time.Since(start), err)

		if err == nil {
			if i > 0 {
				c.logger.Info(ctx, "fallback succeeded", "name", c.name, "link", link.Name())
			}
			return out, nil
		}
		if c.handles != nil && !c.handles(err) {
			return nil, err
		}

		c.logger.Debug(ctx, "fallback link failed", "name", c.name, "link", link.Name(), "error", err)
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", link.Name(), err))
	}

	c.logger.Error(ctx, "all fallbacks failed", "name", c.name, "links", len(c.links))
	return nil, &runnable.NodeError{
		Kind:  runnable.AggregateFailure,
		Node:  c.name,
		Index: len(c.links) - 1,
		Cause: errs,
	}
}

func (c *Chain) record(link string, latency time.Duration, err error) {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	c.metrics.linkExecutions[link]++
	c.metrics.linkLatency[link] += latency
	if err == nil {
		c.metrics.linkSuccesses[link]++
	} else {
		c.metrics.linkFailures[link]++
	}
}

// Metrics returns a point-in-time view of the chain's counters.
func (c *Chain) Metrics() MetricsSnapshot {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	snapshot := MetricsSnapshot{
		TotalExecutions: c.metrics.totalExecutions,
		LinkStats:       make(map[string]LinkStats, len(c.metrics.linkExecutions)),
	}
	for name, execs := range c.metrics.linkExecutions {
		snapshot.LinkStats[name] = LinkStats{
			Executions: execs,
			Successes:  c.metrics.linkSuccesses[name],
			Failures:   c.metrics.linkFailures[name],
			AvgLatency: c.metrics.linkLatency[name] / time.Duration(execs),
		}
	}
	return snapshot
}

// MetricsSnapshot represents a point-in-time view of metrics.
type MetricsSnapshot struct {
	TotalExecutions int64
	LinkStats       map[string]LinkStats
}

// LinkStats contains statistics for a single link.
type LinkStats struct {
	Executions int64
	Successes  int64
	Failures   int64
	AvgLatency time.Duration
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
