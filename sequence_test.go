package runnable_test

import (
	"context"
	"errors"
	"testing"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/internal/testutil"
)

func intFunc(name string, fn func(int) int) runnable.Node {
	return runnable.Func(name, func(_ context.Context, x int) (int, error) {
		return fn(x), nil
	})
}

func TestSequenceComposesLeftToRight(t *testing.T) {
	tests := []struct {
		name  string
		fns   []func(int) int
		input int
		want  int
	}{
		{
			name:  "single",
			fns:   []func(int) int{func(x int) int { return x * 2 }},
			input: 3,
			want:  6,
		},
		{
			name: "double add square",
			fns: []func(int) int{
				func(x int) int { return x * 2 },
				func(x int) int { return x + 10 },
				func(x int) int { return x * x },
			},
			input: 3,
			want:  256,
		},
		{
			name: "four additions",
			fns: []func(int) int{
				func(x int) int { return x + 10 },
				func(x int) int { return x + 30 },
				func(x int) int { return x + 20 },
				func(x int) int { return x + 11 },
			},
			input: 0,
			want:  71,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := make([]runnable.Node, len(tt.fns))
			want := tt.input
			for i, fn := range tt.fns {
				nodes[i] = intFunc("step", fn)
				want = fn(want)
			}
			if want != tt.want {
				t.Fatalf("bad fixture: composed = %d, want %d", want, tt.want)
			}

			seq, err := runnable.NewSequence("seq", nodes)
			if err != nil {
				t.Fatalf("NewSequence() error = %v", err)
			}

			got, err := seq.Invoke(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Invoke() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSequenceFailsFast(t *testing.T) {
	boom := errors.New("boom")

	for k := 0; k < 4; k++ {
		nodes := make([]*testutil.MockNode, 4)
		children := make([]runnable.Node, 4)
		for i := range nodes {
			nodes[i] = testutil.NewMockNode("step")
			if i == k {
				nodes[i].Failing(1, boom)
			}
			children[i] = nodes[i]
		}

		seq, err := runnable.NewSequence("seq", children)
		if err != nil {
			t.Fatalf("NewSequence() error = %v", err)
		}

		_, err = seq.Invoke(context.Background(), "x")
		assert := testutil.NewAssert(t)
		ne := assert.NodeError(err, runnable.InvocationFailed)
		assert.Equal(k, ne.Index, "failing index")
		assert.Equal("seq", ne.Node)
		assert.ErrorIs(err, boom)

		for i, n := range nodes {
			want := 1
			if i > k {
				want = 0
			}
			if n.Calls() != want {
				t.Errorf("k=%d: node %d called %d times, want %d", k, i, n.Calls(), want)
			}
		}
	}
}

func TestSequenceKeepsChildKind(t *testing.T) {
	branch, err := runnable.NewBranch("pick",
		[]runnable.Case{{
			Predicate: func(context.Context, any) (bool, error) { return false, errors.New("bad predicate") },
			Node:      testutil.NewMockNode("never"),
		}},
		testutil.NewMockNode("default"),
	)
	if err != nil {
		t.Fatal(err)
	}

	seq := runnable.Pipe("outer", testutil.NewMockNode("first"), branch)
	_, err = seq.Invoke(context.Background(), 1)

	assert := testutil.NewAssert(t)
	ne := assert.NodeError(err, runnable.PredicateFailed)
	assert.Equal(1, ne.Index)
	assert.ErrorIs(err, runnable.PredicateFailed)
}

func TestSequenceOf(t *testing.T) {
	seq, err := runnable.SequenceOf("parts",
		intFunc("first", func(x int) int { return x * 2 }),
		[]runnable.Node{intFunc("middle", func(x int) int { return x + 10 })},
		intFunc("last", func(x int) int { return x * x }),
	)
	if err != nil {
		t.Fatalf("SequenceOf() error = %v", err)
	}

	assert := testutil.NewAssert(t)
	assert.Len(seq.Nodes(), 3)
	assert.Equal(256, assert.Invokes(seq, 3))
}

func TestSequenceValidation(t *testing.T) {
	assert := testutil.NewAssert(t)

	_, err := runnable.NewSequence("empty", nil)
	assert.ErrorIs(err, runnable.ErrEmptySequence)

	_, err = runnable.NewSequence("nil", []runnable.Node{testutil.NewMockNode("a"), nil})
	assert.ErrorIs(err, runnable.ErrNilNode)

	assert.Panics(func() { runnable.Pipe("empty") })
}

func TestPipeNestsSequences(t *testing.T) {
	a := testutil.NewAssert(t)

	inner := runnable.Pipe("inner", testutil.Double("double"), testutil.Increment("inc"))
	outer := runnable.Pipe("outer", inner, inner)

	// ((3*2)+1)*2+1
	a.Equal(15, a.Invokes(outer, 3))
}
