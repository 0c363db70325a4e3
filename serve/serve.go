// Package serve exposes a node over NATS request-reply.
//
// Requests are JSON objects {"id": "...", "input": ...}. Replies carry the
// same id and either "output" or "error". A missing id is generated.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/middleware"
)

// ErrNoSubject is returned by Serve when no subject is configured.
var ErrNoSubject = errors.New("serve: subject is required")

// Request is the wire form of an invocation.
type Request struct {
	ID    string `json:"id,omitempty"`
	Input any    `json:"input"`
}

// Response is the wire form of a result.
type Response struct {
	ID     string     `json:"id"`
	Output any        `json:"output,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed invocation. Kind is empty for failures that
// are not node errors, such as undecodable requests.
type ErrorBody struct {
	Kind    string `json:"kind,omitempty"`
	Node    string `json:"node,omitempty"`
	Message string `json:"message"`
}

// Service invokes a node for every request. The node can be swapped while
// the service runs.
type Service struct {
	mu       sync.RWMutex
	node     runnable.Node
	logger   runnable.Logger
	timeout  time.Duration
	registry *prometheus.Registry
	metrics  middleware.Middleware
	requests *prometheus.CounterVec
}

// Option configures a Service.
type Option func(*Service)

// WithLogger logs every request.
func WithLogger(logger runnable.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTimeout bounds every invocation.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.timeout = d
	}
}

// New creates a service for node.
func New(node runnable.Node, opts ...Option) *Service {
	s := &Service{
		logger:   nopLogger{},
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = middleware.Metrics(middleware.NewPrometheusCollector(s.registry))
	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runnable_serve_requests_total",
		Help: "Requests handled by the service",
	}, []string{"status"})
	s.registry.MustRegister(s.requests)

	s.Swap(node)
	return s
}

// Swap replaces the served node. In-flight requests finish on the old node.
func (s *Service) Swap(node runnable.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.node = middleware.Apply(node, s.metrics)
}

// Node returns the node currently served.
func (s *Service) Node() runnable.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.node
}

// Handle decodes one request, invokes the node and encodes the reply.
func (s *Service) Handle(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.requests.WithLabelValues("invalid").Inc()
		return encode(Response{ID: uuid.NewString(), Error: &ErrorBody{Message: "invalid request: " + err.Error()}})
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	node := s.Node()
	start := time.Now()
	out, err := node.Invoke(ctx, req.Input)
	if err != nil {
		s.requests.WithLabelValues("error").Inc()
		s.logger.Error(ctx, "request failed", "id", req.ID, "node", node.Name(), "error", err)
		return encode(Response{ID: req.ID, Error: errorBody(err)})
	}

	s.requests.WithLabelValues("ok").Inc()
	s.logger.Debug(ctx, "request served", "id", req.ID, "node", node.Name(), "duration", time.Since(start))
	return encode(Response{ID: req.ID, Output: out})
}

// Serve answers requests on subject until ctx is done, then drains the
// subscription. Subscribers sharing a queue group split the load.
func (s *Service) Serve(ctx context.Context, nc *nats.Conn, subject, queue string) error {
	if subject == "" {
		return ErrNoSubject
	}

	handler := func(msg *nats.Msg) {
		if err := msg.Respond(s.Handle(ctx, msg.Data)); err != nil {
			s.logger.Error(ctx, "reply failed", "subject", msg.Subject, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = nc.QueueSubscribe(subject, queue, handler)
	} else {
		sub, err = nc.Subscribe(subject, handler)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	s.logger.Info(ctx, "serving", "subject", subject, "queue", queue, "node", s.Node().Name())
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w", subject, err)
	}
	return nil
}

// MetricsHandler serves the service's Prometheus metrics.
func (s *Service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

func errorBody(err error) *ErrorBody {
	body := &ErrorBody{Message: err.Error()}
	var ne *runnable.NodeError
	if errors.As(err, &ne) {
		body.Kind = string(ne.Kind)
		body.Node = ne.Node
	}
	return body
}

func encode(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(Response{
			ID:    resp.ID,
			Error: &ErrorBody{Message: "encode output: " + err.Error()},
		})
	}
	return data
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
