package middleware

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentstation/runnable"
)

// Tracing opens a span around each invocation.
func Tracing(tracer trace.Tracer) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			ctx, span := tracer.Start(ctx, node.Name(),
				trace.WithAttributes(attribute.String("runnable.node", node.Name())))
			defer span.End()

			result, err := node.Invoke(ctx, input)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.SetAttributes(attribute.String("runnable.outcome", outcome(err)))
				return nil, err
			}

			span.SetStatus(codes.Ok, "")
			return result, nil
		})
	}
}
