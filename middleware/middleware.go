// Package middleware provides node enhancement patterns for cross-cutting concerns
// like logging, metrics, tracing, and error reporting.
package middleware

import (
	"context"

	"github.com/agentstation/runnable"
)

// Middleware modifies node behavior.
type Middleware func(runnable.Node) runnable.Node

// middlewareNode wraps a node to modify its behavior.
type middlewareNode struct {
	inner  runnable.Node
	invoke func(ctx context.Context, input any) (any, error)
}

func (m *middlewareNode) Name() string {
	return m.inner.Name()
}

func (m *middlewareNode) Invoke(ctx context.Context, input any) (any, error) {
	return m.invoke(ctx, input)
}

// Unwrap returns the wrapped node.
func (m *middlewareNode) Unwrap() runnable.Node {
	return m.inner
}

func wrap(node runnable.Node, invoke func(ctx context.Context, input any) (any, error)) runnable.Node {
	return &middlewareNode{inner: node, invoke: invoke}
}

// Chain combines multiple middlewares into a single middleware.
// The first middleware is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(node runnable.Node) runnable.Node {
		for i := len(middlewares) - 1; i >= 0; i-- {
			node = middlewares[i](node)
		}
		return node
	}
}

// Apply applies middleware to a node. The last middleware is the outermost.
func Apply(node runnable.Node, middlewares ...Middleware) runnable.Node {
	for _, mw := range middlewares {
		node = mw(node)
	}
	return node
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind, ok := runnable.KindOf(err); ok {
		return string(kind)
	}
	return "error"
}
