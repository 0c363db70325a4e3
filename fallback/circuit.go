package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentstation/runnable"
)

// ErrCircuitOpen is returned while a circuit breaker rejects invocations.
var ErrCircuitOpen = errors.New("fallback: circuit open")

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows requests to pass through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows limited requests to test recovery.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is a node that stops invoking its child after repeated
// failures and probes it again once a reset timeout has elapsed.
type CircuitBreaker struct {
	name  string
	child runnable.Node

	maxFailures      int
	resetTimeout     time.Duration
	halfOpenRequests int
	now              func() time.Time
	onStateChange    func(from, to CircuitState)

	mu                sync.Mutex
	state             CircuitState
	failures          int
	openedAt          time.Time
	halfOpenInFlight  int
	halfOpenSuccesses int

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	totalRejected  int64
	circuitOpens   int64
}

// CircuitOption configures a circuit breaker.
type CircuitOption func(*CircuitBreaker)

// WithMaxFailures sets the number of consecutive failures that opens the circuit.
func WithMaxFailures(n int) CircuitOption {
	return func(cb *CircuitBreaker) {
		cb.maxFailures = n
	}
}

// WithResetTimeout sets how long the circuit stays open before probing.
func WithResetTimeout(d time.Duration) CircuitOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// WithHalfOpenRequests sets the number of successful probes needed to close.
func WithHalfOpenRequests(n int) CircuitOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = n
	}
}

// WithStateChangeCallback sets a callback for state transitions. It runs
// synchronously after the breaker's lock is released.
func WithStateChangeCallback(fn func(from, to CircuitState)) CircuitOption {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CircuitOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// NewCircuitBreaker wraps child with circuit breaker protection.
func NewCircuitBreaker(name string, child runnable.Node, opts ...CircuitOption) (*CircuitBreaker, error) {
	if child == nil {
		return nil, fmt.Errorf("%w: circuit breaker %q", runnable.ErrNilNode, name)
	}

	cb := &CircuitBreaker{
		name:             name,
		child:            child,
		maxFailures:      5,
		resetTimeout:     30 * time.Second,
		halfOpenRequests: 1,
		now:              time.Now,
		state:            StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}

	if cb.maxFailures < 1 || cb.halfOpenRequests < 1 {
		return nil, fmt.Errorf("fallback: circuit breaker %q requires positive thresholds", name)
	}
	return cb, nil
}

// Name returns the node's identifier.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Invoke runs the child unless the circuit is open.
func (cb *CircuitBreaker) Invoke(ctx context.Context, input any) (any, error) {
	if err := cb.admit(); err != nil {
		return nil, &runnable.NodeError{Kind: runnable.InvocationFailed, Node: cb.name, Index: -1, Cause: err}
	}

	out, err := cb.child.Invoke(ctx, input)
	cb.record(err)
	return out, err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	cb.totalRequests++

	var change func()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.totalRejected++
			cb.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
		}
		change = cb.transitionTo(StateHalfOpen)
		cb.halfOpenInFlight++

	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.halfOpenRequests {
			cb.totalRejected++
			cb.mu.Unlock()
			return fmt.Errorf("%w: %s probing", ErrCircuitOpen, cb.name)
		}
		cb.halfOpenInFlight++
	}
	cb.mu.Unlock()

	if change != nil {
		change()
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()

	var change func()
	if err == nil {
		cb.totalSuccesses++
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.halfOpenRequests {
				change = cb.transitionTo(StateClosed)
			}
		}
	} else {
		cb.totalFailures++
		switch cb.state {
		case StateClosed:
			cb.failures++
			if cb.failures >= cb.maxFailures {
				change = cb.transitionTo(StateOpen)
			}
		case StateHalfOpen:
			// Any failed probe reopens the circuit.
			change = cb.transitionTo(StateOpen)
		}
	}
	cb.mu.Unlock()

	if change != nil {
		change()
	}
}

// transitionTo must be called with mu held. It returns the deferred callback.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) func() {
	if cb.state == newState {
		return nil
	}

	oldState := cb.state
	cb.state = newState

	switch newState {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.circuitOpens++
		cb.openedAt = cb.now()
	}
	cb.halfOpenInFlight = 0
	cb.halfOpenSuccesses = 0

	if cb.onStateChange == nil {
		return nil
	}
	fn := cb.onStateChange
	return func() { fn(oldState, newState) }
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.transitionTo(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()

	if change != nil {
		change()
	}
}

// Metrics returns circuit breaker statistics.
func (cb *CircuitBreaker) Metrics() CircuitMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitMetrics{
		Name:            cb.name,
		State:           cb.state.String(),
		TotalRequests:   cb.totalRequests,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CircuitOpens:    cb.circuitOpens,
		CurrentFailures: cb.failures,
	}
}

// CircuitMetrics contains circuit breaker statistics.
type CircuitMetrics struct {
	Name            string
	State           string
	TotalRequests   int64
	TotalSuccesses  int64
	TotalFailures   int64
	TotalRejected   int64
	CircuitOpens    int64
	CurrentFailures int
}
