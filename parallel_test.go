package runnable_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/internal/testutil"
)

func TestParallelCollectsAllOutputs(t *testing.T) {
	par, err := runnable.NewParallel("map", map[string]runnable.Node{
		"a": intFunc("double", func(x int) int { return x * 2 }),
		"b": intFunc("square", func(x int) int { return x * x }),
	})
	if err != nil {
		t.Fatalf("NewParallel() error = %v", err)
	}

	assert := testutil.NewAssert(t)
	got := assert.Invokes(par, 3)
	assert.Equal(map[string]any{"a": 6, "b": 9}, got)
	assert.Equal([]string{"a", "b"}, par.Keys())
}

func TestParallelChildrenReceiveSameInput(t *testing.T) {
	data := map[string]any{"double": 3, "square": 4, "some": 5}

	a := testutil.NewMockNode("a")
	b := testutil.NewMockNode("b")
	c := testutil.NewMockNode("c")
	par, err := runnable.NewParallel("map", map[string]runnable.Node{"double": a, "square": b, "some": c})
	if err != nil {
		t.Fatal(err)
	}

	assert := testutil.NewAssert(t)
	out := assert.Invokes(par, data).(map[string]any)
	assert.Equal(data, out["some"])
	for _, n := range []*testutil.MockNode{a, b, c} {
		assert.Equal([]any{data}, n.Inputs())
	}
}

func TestParallelAllOrNothing(t *testing.T) {
	boom := errors.New("g failed")

	f := testutil.NewMockNode("f").Returns(testutil.Result{Output: "ok"})
	g := testutil.NewMockNode("g").Failing(1, boom)
	par, err := runnable.NewParallel("map", map[string]runnable.Node{"a": f, "b": g})
	if err != nil {
		t.Fatal(err)
	}

	out, err := par.Invoke(context.Background(), 1)
	if out != nil {
		t.Errorf("Invoke() output = %v, want nil", out)
	}

	assert := testutil.NewAssert(t)
	ne := assert.NodeError(err, runnable.AggregateFailure)
	assert.Equal("b", ne.Key)
	assert.ErrorIs(err, boom)
	assert.Equal(1, f.Calls(), "sibling should still run")
}

func TestParallelReportsLowestKeyAndKeepsEveryFailure(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")

	// c fails first in wall-clock time; the report must still name a.
	slowA := testutil.NewMockNode("a").Failing(1, errA).OnCall(func(context.Context, any) {
		time.Sleep(20 * time.Millisecond)
	})
	par, err := runnable.NewParallel("map", map[string]runnable.Node{
		"c": testutil.NewMockNode("c").Failing(1, errC),
		"a": slowA,
		"b": testutil.NewMockNode("b"),
	})
	if err != nil {
		t.Fatal(err)
	}

	for range 5 {
		_, err := par.Invoke(context.Background(), nil)

		assert := testutil.NewAssert(t)
		ne := assert.NodeError(err, runnable.AggregateFailure)
		assert.Equal("a", ne.Key)
		assert.ErrorIs(err, errA)
		assert.ErrorIs(err, errC)

		causes := multierr.Errors(ne.Cause)
		assert.Len(causes, 2)
		assert.ErrorIs(causes[0], errA)
	}
}

func TestParallelMaxConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	track := func(context.Context, any) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
	}

	branches := map[string]runnable.Node{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		branches[k] = testutil.NewMockNode(k).OnCall(track)
	}

	par, err := runnable.NewParallel("limited", branches, runnable.WithMaxConcurrency(2))
	if err != nil {
		t.Fatal(err)
	}

	assert := testutil.NewAssert(t)
	out := assert.Invokes(par, 1).(map[string]any)
	assert.Len(out, 6)
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestParallelValidation(t *testing.T) {
	assert := testutil.NewAssert(t)

	_, err := runnable.NewParallel("empty", nil)
	assert.Error(err)

	_, err = runnable.NewParallel("nil", map[string]runnable.Node{"a": nil})
	assert.ErrorIs(err, runnable.ErrNilNode)
}
