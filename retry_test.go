package runnable_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/internal/testutil"
)

var errTransient = errors.New("transient")

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	child := testutil.NewMockNode("flaky").
		Failing(2, errTransient).
		Returns(testutil.Result{Output: "done"})
	sleeper := &testutil.Sleeper{}

	r, err := runnable.NewRetry("retry", child,
		runnable.WithMaxAttempts(3),
		runnable.WithBackoff(time.Second, 2),
		runnable.WithJitter(false),
		runnable.WithSleeper(sleeper.Sleep),
	)
	if err != nil {
		t.Fatalf("NewRetry() error = %v", err)
	}

	assert := testutil.NewAssert(t)
	assert.Equal("done", assert.Invokes(r, "x"))
	assert.Equal(3, child.Calls())
	assert.Equal([]time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestRetryJitterNeverShortensDelay(t *testing.T) {
	child := testutil.NewMockNode("flaky").
		Failing(2, errTransient).
		Returns(testutil.Result{Output: "done"})
	sleeper := &testutil.Sleeper{}

	r, err := runnable.NewRetry("retry", child,
		runnable.WithMaxAttempts(3),
		runnable.WithBackoff(time.Second, 2),
		runnable.WithJitter(true),
		runnable.WithSleeper(sleeper.Sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	testutil.NewAssert(t).Invokes(r, nil)

	delays := sleeper.Delays()
	if len(delays) != 2 {
		t.Fatalf("observed %d delays, want 2", len(delays))
	}
	for i, base := range []time.Duration{time.Second, 2 * time.Second} {
		if delays[i] < base || delays[i] > 2*base {
			t.Errorf("delay %d = %v, want in [%v, %v]", i, delays[i], base, 2*base)
		}
	}
}

func TestRetryExhaustedPropagatesLastFailure(t *testing.T) {
	first := errors.New("attempt 1")
	second := errors.New("attempt 2")
	child := testutil.NewMockNode("always").Returns(
		testutil.Result{Err: first},
		testutil.Result{Err: second},
	)

	r, err := runnable.NewRetry("retry", child,
		runnable.WithMaxAttempts(2),
		runnable.WithSleeper((&testutil.Sleeper{}).Sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Invoke(context.Background(), nil)

	assert := testutil.NewAssert(t)
	ne := assert.NodeError(err, runnable.InvocationFailed)
	assert.Equal(2, ne.Attempt)
	assert.Equal("retry", ne.Node)
	assert.ErrorIs(err, runnable.RetriesExhausted)
	assert.Equal(2, child.Calls())
	assert.ErrorIs(err, second)
	assert.False(errors.Is(err, first), "only the last failure is reported")
}

func TestRetryPreservesCauseKind(t *testing.T) {
	child := runnable.NewLambda("lambda", func(context.Context, any) (any, error) {
		return nil, errTransient
	})

	r, err := runnable.NewRetry("retry", child,
		runnable.WithMaxAttempts(2),
		runnable.RetryOn(runnable.InvocationFailed),
		runnable.WithSleeper((&testutil.Sleeper{}).Sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Invoke(context.Background(), nil)

	assert := testutil.NewAssert(t)
	ne := assert.NodeError(err, runnable.InvocationFailed)
	assert.Equal(2, ne.Attempt)
	assert.ErrorIs(err, runnable.RetriesExhausted)
	assert.ErrorIs(err, errTransient)

	var inner *runnable.NodeError
	errors.As(errors.Unwrap(err), &inner)
	assert.Equal("lambda", inner.Node)
}

func TestRetryExhaustedKeepsKindInsideSequence(t *testing.T) {
	failing := runnable.Case{
		Predicate: func(context.Context, any) (bool, error) { return false, errTransient },
		Node:      runnable.Passthrough("a", nil),
	}
	branch, err := runnable.NewBranch("route", []runnable.Case{failing}, runnable.Passthrough("default", nil))
	if err != nil {
		t.Fatal(err)
	}
	r, err := runnable.NewRetry("retry", branch,
		runnable.WithMaxAttempts(2),
		runnable.WithSleeper((&testutil.Sleeper{}).Sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = runnable.Pipe("seq", r).Invoke(context.Background(), nil)

	assert := testutil.NewAssert(t)
	ne := assert.NodeError(err, runnable.PredicateFailed)
	assert.Equal("seq", ne.Node)
	assert.Equal(0, ne.Index)
	assert.ErrorIs(err, runnable.RetriesExhausted)
	assert.ErrorIs(err, errTransient)

	var inner *runnable.NodeError
	errors.As(ne.Cause, &inner)
	assert.Equal("retry", inner.Node)
	assert.Equal(2, inner.Attempt)
}

func TestRetryNonRetryableIsNotExhausted(t *testing.T) {
	child := testutil.NewMockNode("child").Failing(1, errors.New("fatal"))

	r, err := runnable.NewRetry("retry", child,
		runnable.WithMaxAttempts(3),
		runnable.RetryOn(errTransient),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Invoke(context.Background(), nil)
	if errors.Is(err, runnable.RetriesExhausted) {
		t.Errorf("Invoke() error = %v, should not report exhaustion", err)
	}
}

func TestRetryNonRetryablePropagatesUnchanged(t *testing.T) {
	fatal := errors.New("fatal")
	child := testutil.NewMockNode("child").Failing(1, fatal)
	sleeper := &testutil.Sleeper{}

	r, err := runnable.NewRetry("retry", child,
		runnable.WithMaxAttempts(5),
		runnable.RetryOn(errTransient),
		runnable.WithSleeper(sleeper.Sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = r.Invoke(context.Background(), nil)
	if err != fatal {
		t.Errorf("Invoke() error = %v, want %v unchanged", err, fatal)
	}
	if child.Calls() != 1 {
		t.Errorf("child called %d times, want 1", child.Calls())
	}
	if len(sleeper.Delays()) != 0 {
		t.Errorf("observed delays %v, want none", sleeper.Delays())
	}
}

func TestRetryIf(t *testing.T) {
	child := testutil.NewMockNode("child").
		Failing(1, errTransient).
		Returns(testutil.Result{Output: 42})

	r, err := runnable.NewRetry("retry", child,
		runnable.WithMaxAttempts(2),
		runnable.RetryIf(func(err error) bool { return err.Error() == "transient" }),
		runnable.WithSleeper((&testutil.Sleeper{}).Sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	assert := testutil.NewAssert(t)
	assert.Equal(42, assert.Invokes(r, nil))
	assert.Equal(2, child.Calls())
}

func TestRetryWaitHonorsCancellation(t *testing.T) {
	child := testutil.NewMockNode("child").Failing(1, errTransient)

	r, err := runnable.NewRetry("retry", child,
		runnable.WithMaxAttempts(3),
		runnable.WithBackoff(time.Hour, 2),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.Invoke(ctx, nil)

	assert := testutil.NewAssert(t)
	assert.ErrorIs(err, context.DeadlineExceeded)
	assert.ErrorIs(err, errTransient)
	assert.True(time.Since(start) < time.Minute)
	assert.Equal(1, child.Calls())
}

func TestRetryWaitDoesNotBlockOtherInvocations(t *testing.T) {
	gate := make(chan struct{})
	slow := testutil.NewMockNode("child").Computes(func(input any) (any, error) {
		if input == "slow" {
			return nil, errTransient
		}
		return input, nil
	})

	r, err := runnable.NewRetry("retry", slow,
		runnable.WithMaxAttempts(2),
		runnable.WithSleeper(func(ctx context.Context, _ time.Duration) error {
			<-gate
			return nil
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.Invoke(context.Background(), "slow")
		done <- err
	}()

	// The slow invocation is parked in its backoff wait.
	assert := testutil.NewAssert(t)
	assert.Eventually(func() bool { return slow.Calls() >= 1 }, time.Second)
	assert.Equal("fast", assert.Invokes(r, "fast"))

	close(gate)
	assert.ErrorIs(<-done, runnable.RetriesExhausted)
}

func TestRetryValidation(t *testing.T) {
	assert := testutil.NewAssert(t)

	_, err := runnable.NewRetry("r", testutil.NewMockNode("c"), runnable.WithMaxAttempts(0))
	assert.ErrorIs(err, runnable.ErrInvalidAttempts)

	_, err = runnable.NewRetry("r", nil)
	assert.ErrorIs(err, runnable.ErrNilNode)
}

func TestRetryLogsAttempts(t *testing.T) {
	logger := testutil.NewMockLogger()
	child := testutil.NewMockNode("child").
		Failing(1, errTransient).
		Returns(testutil.Result{Output: "ok"})

	r, err := runnable.NewRetry("retry", child,
		runnable.WithLogger(logger),
		runnable.WithSleeper((&testutil.Sleeper{}).Sleep),
	)
	if err != nil {
		t.Fatal(err)
	}

	assert := testutil.NewAssert(t)
	assert.Invokes(r, nil)
	assert.True(logger.HasEntry("debug", "retrying node"))
}
