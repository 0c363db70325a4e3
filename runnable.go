package runnable

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	// ErrEmptySequence is returned when a sequence is built without children.
	ErrEmptySequence = errors.New("runnable: sequence requires at least one node")

	// ErrNilNode is returned when a nil child is passed to a constructor.
	ErrNilNode = errors.New("runnable: nil node")

	// ErrNoDefault is returned when a branch is built without a default node.
	ErrNoDefault = errors.New("runnable: branch requires a default node")

	// ErrInvalidAttempts is returned when a retry is configured with fewer than one attempt.
	ErrInvalidAttempts = errors.New("runnable: max attempts must be at least 1")

	// ErrInvalidInput is returned when input type doesn't match expected type.
	ErrInvalidInput = errors.New("runnable: invalid input type")
)

// Node is the core interface for all execution units in a pipeline.
// Composite nodes implement it too, so trees nest without adapters.
type Node interface {
	// Name returns the node's identifier.
	Name() string

	// Invoke runs the node against input and returns its output.
	Invoke(ctx context.Context, input any) (any, error)
}

// Logger provides structured logging.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// Tracer provides distributed tracing.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, func())
}

// options holds configuration shared by the node constructors.
// Fields that do not apply to a node kind are ignored.
type options struct {
	logger Logger
	tracer Tracer

	// Parallel
	maxConcurrency int

	// Retry
	maxAttempts int
	baseDelay   time.Duration
	multiplier  float64
	maxDelay    time.Duration
	jitter      bool
	retryOn     []error
	retryIf     func(error) bool
	sleep       SleepFunc
}

// Option configures a node.
type Option func(*options)

// WithLogger sets the logger used by a node.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer sets the tracer used by composite nodes to span each child.
func WithTracer(tracer Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithMaxConcurrency caps how many children a Parallel node runs at once.
// Zero or negative means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = nopLogger{}
	}
	return o
}

func (o options) span(ctx context.Context, name string) (context.Context, func()) {
	if o.tracer == nil {
		return ctx, func() {}
	}
	return o.tracer.StartSpan(ctx, name)
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
