package middleware_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/internal/testutil"
	"github.com/agentstation/runnable/middleware"
)

var errBoom = errors.New("boom")

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(node runnable.Node) runnable.Node {
			return middleware.Transform(func(in any) any {
				order = append(order, name)
				return in
			}, nil)(node)
		}
	}

	node := middleware.Chain(tag("outer"), tag("inner"))(testutil.NewMockNode("n"))

	assert := testutil.NewAssert(t)
	assert.Equal("n", node.Name())
	assert.Invokes(node, 1)
	assert.Equal([]string{"outer", "inner"}, order)

	order = nil
	assert.Invokes(middleware.Apply(testutil.NewMockNode("n"), tag("inner"), tag("outer")), 1)
	assert.Equal([]string{"outer", "inner"}, order)
}

func TestLogging(t *testing.T) {
	logger := testutil.NewMockLogger()
	ok := middleware.Logging(logger)(testutil.NewMockNode("ok"))
	bad := middleware.Logging(logger)(testutil.NewMockNode("bad").Failing(1, errBoom))

	assert := testutil.NewAssert(t)
	assert.Invokes(ok, 1)
	assert.Fails(bad, 1)
	assert.True(logger.HasEntry("debug", "node invoke starting"))
	assert.True(logger.HasEntry("info", "node invoke completed"))
	assert.True(logger.HasEntry("error", "node invoke failed"))
}

func TestTimings(t *testing.T) {
	timings := middleware.NewTimings()
	node := middleware.Timing(timings.Record)(testutil.NewMockNode("n").
		Returns(testutil.Result{Output: 1}, testutil.Result{Err: errBoom}))

	assert := testutil.NewAssert(t)
	assert.Invokes(node, nil)
	assert.Fails(node, nil)

	stats := timings.Stats("n")
	assert.Equal(int64(2), stats.Count)
	assert.Equal(int64(1), stats.Failures)
	assert.True(stats.Average() <= stats.Total)
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := middleware.NewPrometheusCollector(reg)

	lambda := runnable.NewLambda("n", func(_ context.Context, in any) (any, error) {
		if in == "fail" {
			return nil, errBoom
		}
		return in, nil
	})
	node := middleware.Metrics(collector)(lambda)

	assert := testutil.NewAssert(t)
	assert.Invokes(node, "a")
	assert.Invokes(node, "b")
	assert.Fails(node, "fail")

	expected := `
# HELP runnable_node_invocations_total Total number of node invocations
# TYPE runnable_node_invocations_total counter
runnable_node_invocations_total{node="n",outcome="invocation failed"} 1
runnable_node_invocations_total{node="n",outcome="success"} 2
`
	if err := promtest.GatherAndCompare(reg, strings.NewReader(expected), "runnable_node_invocations_total"); err != nil {
		t.Error(err)
	}
	series, err := promtest.GatherAndCount(reg, "runnable_node_duration_seconds")
	assert.NoError(err)
	assert.Equal(2, series)
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	ok := middleware.Tracing(tracer)(testutil.NewMockNode("ok"))
	bad := middleware.Tracing(tracer)(testutil.NewMockNode("bad").Failing(1, errBoom))

	assert := testutil.NewAssert(t)
	assert.Invokes(ok, 1)
	assert.Fails(bad, 1)

	spans := recorder.Ended()
	assert.Len(spans, 2)
	assert.Equal("ok", spans[0].Name())
	assert.Equal(codes.Ok, spans[0].Status().Code)
	assert.Equal("bad", spans[1].Name())
	assert.Equal(codes.Error, spans[1].Status().Code)
}

type recordingTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (r *recordingTransport) Configure(sentry.ClientOptions)        {}
func (r *recordingTransport) Flush(time.Duration) bool              { return true }
func (r *recordingTransport) FlushWithContext(context.Context) bool { return true }
func (r *recordingTransport) Close()                                {}

func (r *recordingTransport) SendEvent(event *sentry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestSentry(t *testing.T) {
	transport := &recordingTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{Transport: transport, SampleRate: 1.0})
	if err != nil {
		t.Fatal(err)
	}
	hub := sentry.NewHub(client, sentry.NewScope())

	failing := runnable.NewLambda("lookup", func(context.Context, any) (any, error) { return nil, errBoom })
	node := middleware.Sentry(hub)(failing)

	assert := testutil.NewAssert(t)
	assert.Fails(node, nil)
	assert.Invokes(middleware.Sentry(hub)(testutil.NewMockNode("ok")), 1)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Len(transport.events, 1)
	assert.Equal("lookup", transport.events[0].Tags["runnable.node"])
	assert.Equal("invocation failed", transport.events[0].Tags["runnable.kind"])
}

func TestTimeout(t *testing.T) {
	slow := testutil.NewMockNode("slow").OnCall(func(ctx context.Context, _ any) {
		<-ctx.Done()
	})
	node := middleware.Timeout(10 * time.Millisecond)(slow)

	assert := testutil.NewAssert(t)
	err := assert.Fails(node, nil)
	assert.NodeError(err, runnable.InvocationFailed)
	assert.ErrorIs(err, context.DeadlineExceeded)

	assert.Equal(1, assert.Invokes(middleware.Timeout(time.Second)(testutil.NewMockNode("fast")), 1))
}

func TestRateLimit(t *testing.T) {
	node := middleware.RateLimit(1, 1)(testutil.NewMockNode("n"))

	assert := testutil.NewAssert(t)
	assert.Invokes(node, 1)

	// The burst is spent, so the next call must wait longer than the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := node.Invoke(ctx, 2)
	assert.NodeError(err, runnable.InvocationFailed)
}

func TestValidation(t *testing.T) {
	positive := func(v any) error {
		if v.(int) <= 0 {
			return errors.New("not positive")
		}
		return nil
	}
	node := middleware.Validation(positive, positive)(runnable.Func("dec", func(_ context.Context, x int) (int, error) {
		return x - 1, nil
	}))

	assert := testutil.NewAssert(t)
	assert.Equal(1, assert.Invokes(node, 2))
	err := assert.Fails(node, 0)
	assert.NodeError(err, runnable.InvocationFailed)
	assert.Contains(err.Error(), "input validation failed")

	err = assert.Fails(node, 1)
	ne := assert.NodeError(err, runnable.InvocationFailed)
	assert.Equal("dec", ne.Node)
	assert.Contains(err.Error(), "output validation failed")
}

func TestErrorHandler(t *testing.T) {
	swallow := middleware.ErrorHandler(func(error) error { return nil })
	replace := middleware.ErrorHandler(func(err error) error { return errors.New("replaced") })

	assert := testutil.NewAssert(t)
	assert.Nil(assert.Invokes(swallow(testutil.NewMockNode("n").Failing(1, errBoom)), 1))
	assert.Equal("replaced", assert.Fails(replace(testutil.NewMockNode("n").Failing(1, errBoom)), 1).Error())
}
