package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/agentstation/runnable"
)

// Timing reports the duration and outcome of every invocation to record.
func Timing(record func(name string, d time.Duration, err error)) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			start := time.Now()
			result, err := node.Invoke(ctx, input)
			record(node.Name(), time.Since(start), err)
			return result, err
		})
	}
}

// TimingStats holds accumulated timings for one node.
type TimingStats struct {
	Count    int64
	Failures int64
	Last     time.Duration
	Total    time.Duration
}

// Average returns the mean invocation duration.
func (s TimingStats) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Timings accumulates per-node timing statistics. Its Record method can be
// passed to Timing.
type Timings struct {
	mu    sync.Mutex
	stats map[string]TimingStats
}

// NewTimings creates an empty timing recorder.
func NewTimings() *Timings {
	return &Timings{stats: make(map[string]TimingStats)}
}

// Record adds one observation.
func (t *Timings) Record(name string, d time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats[name]
	s.Count++
	s.Last = d
	s.Total += d
	if err != nil {
		s.Failures++
	}
	t.stats[name] = s
}

// Stats returns the statistics for name.
func (t *Timings) Stats(name string) TimingStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats[name]
}
