/*
Package runnable provides a small engine for composing units of work into
executable pipelines.

Five node kinds cover the engine:

  - Lambda wraps a unary function.
  - Sequence pipes each child's output into the next child.
  - Parallel runs named children against the same input and collects a map.
  - Branch picks the first child whose predicate holds, or a default.
  - Retry re-invokes a child on retryable failures with exponential backoff.

Nodes nest arbitrarily and are immutable once built, so a single tree can be
invoked from many goroutines at once. Failures surface as *NodeError values
carrying a Kind, the original cause and any positional context.

Basic usage:

	double := runnable.Func("double", func(ctx context.Context, x int) (int, error) {
		return x * 2, nil
	})
	addTen := runnable.Func("add-ten", func(ctx context.Context, x int) (int, error) {
		return x + 10, nil
	})

	seq := runnable.Pipe("pipeline", double, addTen)
	result, err := seq.Invoke(ctx, 3) // 16

Branching:

	sign, err := runnable.NewBranch("sign",
		[]runnable.Case{
			runnable.When(func(x any) bool { return x.(int) > 0 }, positive),
			runnable.When(func(x any) bool { return x.(int) < 0 }, negative),
		},
		zero,
	)

Retries:

	r, err := runnable.NewRetry("fetch", fetch,
		runnable.WithMaxAttempts(3),
		runnable.WithBackoff(time.Second, 2),
		runnable.WithJitter(true),
		runnable.RetryOn(ErrRateLimited),
	)

Inspecting failures:

	if errors.Is(err, runnable.RetriesExhausted) {
		var ne *runnable.NodeError
		errors.As(err, &ne)
		log.Printf("gave up after %d attempts (%s): %v", ne.Attempt, ne.Kind, ne.Cause)
	}
*/
package runnable
