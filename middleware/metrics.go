package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentstation/runnable"
)

// MetricsCollector collects node invocation metrics.
type MetricsCollector interface {
	RecordStart(node string)
	RecordEnd(node string, d time.Duration, err error)
}

// Metrics adds metrics collection to a node.
func Metrics(collector MetricsCollector) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			collector.RecordStart(node.Name())
			start := time.Now()
			result, err := node.Invoke(ctx, input)
			collector.RecordEnd(node.Name(), time.Since(start), err)
			return result, err
		})
	}
}

// PrometheusCollector records node metrics into a Prometheus registry.
type PrometheusCollector struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
}

// NewPrometheusCollector registers the node metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runnable_node_invocations_total",
				Help: "Total number of node invocations",
			},
			[]string{"node", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runnable_node_duration_seconds",
				Help:    "Node invocation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node", "outcome"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "runnable_node_in_flight",
				Help: "Number of node invocations currently running",
			},
			[]string{"node"},
		),
	}
}

// RecordStart marks an invocation as in flight.
func (c *PrometheusCollector) RecordStart(node string) {
	c.inFlight.WithLabelValues(node).Inc()
}

// RecordEnd records the outcome and latency of an invocation.
func (c *PrometheusCollector) RecordEnd(node string, d time.Duration, err error) {
	o := outcome(err)
	c.inFlight.WithLabelValues(node).Dec()
	c.invocations.WithLabelValues(node, o).Inc()
	c.duration.WithLabelValues(node, o).Observe(d.Seconds())
}
