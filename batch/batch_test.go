package batch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/batch"
	"github.com/agentstation/runnable/internal/testutil"
)

func double() runnable.Node {
	return runnable.Func("double", func(_ context.Context, x int) (int, error) {
		return x * 2, nil
	})
}

func TestEachPreservesOrder(t *testing.T) {
	tests := []struct {
		name        string
		input       any
		concurrency int
		want        []any
	}{
		{"typed slice", []int{1, 2, 3}, 4, []any{2, 4, 6}},
		{"any slice", []any{5, 6}, 2, []any{10, 12}},
		{"sequential", []int{1, 2, 3}, 1, []any{2, 4, 6}},
		{"array", [3]int{7, 8, 9}, 3, []any{14, 16, 18}},
		{"nil", nil, 3, []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			each, err := batch.NewEach("each", double(), batch.WithConcurrency(tt.concurrency))
			if err != nil {
				t.Fatal(err)
			}

			assert := testutil.NewAssert(t)
			assert.Equal(tt.want, assert.Invokes(each, tt.input))
		})
	}
}

func TestEachRejectsNonSlice(t *testing.T) {
	each, err := batch.NewEach("each", double())
	if err != nil {
		t.Fatal(err)
	}

	assert := testutil.NewAssert(t)
	err = assert.Fails(each, 3)
	assert.NodeError(err, runnable.InvocationFailed)
	assert.ErrorIs(err, runnable.ErrInvalidInput)
}

func TestInvokeReportsFailingIndex(t *testing.T) {
	boom := errors.New("boom")
	node := runnable.Func("maybe", func(_ context.Context, x int) (int, error) {
		if x == 3 {
			return 0, boom
		}
		return x, nil
	})

	for _, workers := range []int{1, 4} {
		_, err := batch.Invoke(context.Background(), node, []any{1, 2, 3, 4}, batch.WithConcurrency(workers))

		assert := testutil.NewAssert(t)
		ne := assert.NodeError(err, runnable.InvocationFailed)
		assert.Equal(2, ne.Index)
		assert.ErrorIs(err, boom)
	}
}

func TestInvokeBoundsWorkers(t *testing.T) {
	var running, peak atomic.Int32
	node := testutil.NewMockNode("slow").OnCall(func(context.Context, any) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
	})

	inputs := make([]any, 20)
	for i := range inputs {
		inputs[i] = i
	}

	out, err := batch.Invoke(context.Background(), node, inputs, batch.WithConcurrency(3))
	if err != nil {
		t.Fatal(err)
	}

	assert := testutil.NewAssert(t)
	assert.Equal(inputs, out)
	assert.True(peak.Load() <= 3, "peak workers %d", peak.Load())
}
