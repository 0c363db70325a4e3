// Package testutil provides assertions, mocks and fakes shared by the tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// Result is one scripted outcome of a MockNode invocation.
type Result struct {
	Output any
	Err    error
}

// MockNode is a runnable.Node that replays scripted results and records every
// input it receives. When the script runs out the last result repeats.
type MockNode struct {
	name string

	mu      sync.Mutex
	script  []Result
	inputs  []any
	onCall  func(ctx context.Context, input any)
	calls   int
	outputs func(input any) (any, error)
}

// NewMockNode creates a mock node that echoes its input until scripted.
func NewMockNode(name string) *MockNode {
	return &MockNode{name: name}
}

// Returns appends scripted results.
func (m *MockNode) Returns(results ...Result) *MockNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
	return m
}

// Failing appends n failures with err.
func (m *MockNode) Failing(n int, err error) *MockNode {
	for range n {
		m.Returns(Result{Err: err})
	}
	return m
}

// Computes sets a function producing the result from the input. It is used
// when no scripted result is left.
func (m *MockNode) Computes(fn func(input any) (any, error)) *MockNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = fn
	return m
}

// OnCall registers a hook run before each invocation.
func (m *MockNode) OnCall(fn func(ctx context.Context, input any)) *MockNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCall = fn
	return m
}

// Name returns the node's identifier.
func (m *MockNode) Name() string {
	return m.name
}

// Invoke returns the next scripted result.
func (m *MockNode) Invoke(ctx context.Context, input any) (any, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.inputs = append(m.inputs, input)
	hook := m.onCall
	compute := m.outputs
	var res *Result
	switch {
	case idx < len(m.script):
		res = &m.script[idx]
	case compute == nil && len(m.script) > 0:
		res = &m.script[len(m.script)-1]
	}
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, input)
	}
	if res != nil {
		return res.Output, res.Err
	}
	if compute != nil {
		return compute(input)
	}
	return input, nil
}

// Calls returns how many times the node was invoked.
func (m *MockNode) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inputs returns the inputs received so far.
func (m *MockNode) Inputs() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.inputs...)
}

// MockLogger provides a mock logger for testing.
type MockLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry represents a log entry.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a new mock logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Debug logs a debug message.
func (l *MockLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	l.log("debug", msg, keysAndValues...)
}

// Info logs an info message.
func (l *MockLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	l.log("info", msg, keysAndValues...)
}

// Error logs an error message.
func (l *MockLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	l.log("error", msg, keysAndValues...)
}

func (l *MockLogger) log(level, msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := make(map[string]any)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}

	l.entries = append(l.entries, LogEntry{
		Level:   level,
		Message: msg,
		Fields:  fields,
	})
}

// Entries returns all log entries.
func (l *MockLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// HasEntry checks if a log entry exists.
func (l *MockLogger) HasEntry(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Level == level && entry.Message == msg {
			return true
		}
	}
	return false
}

// MockTracer records spans started through runnable.Tracer.
type MockTracer struct {
	mu    sync.Mutex
	spans []SpanInfo
}

// SpanInfo represents span information.
type SpanInfo struct {
	Name      string
	StartTime time.Time
	EndTime   time.Time
}

// NewMockTracer creates a new mock tracer.
func NewMockTracer() *MockTracer {
	return &MockTracer{}
}

// StartSpan starts a new span.
func (t *MockTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := len(t.spans)
	t.spans = append(t.spans, SpanInfo{Name: name, StartTime: time.Now()})

	return ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.spans[idx].EndTime = time.Now()
	}
}

// Spans returns all recorded spans.
func (t *MockTracer) Spans() []SpanInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SpanInfo(nil), t.spans...)
}

// Sleeper records requested waits without blocking.
type Sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d and returns ctx.Err().
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Delays returns the recorded waits in order.
func (s *Sleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
