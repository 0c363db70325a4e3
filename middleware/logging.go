package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/agentstation/runnable"
)

// Logging adds structured logging around each invocation.
func Logging(logger runnable.Logger) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			logger.Debug(ctx, "node invoke starting", "node", node.Name(), "input_type", fmt.Sprintf("%T", input))
			start := time.Now()

			result, err := node.Invoke(ctx, input)

			if err != nil {
				logger.Error(ctx, "node invoke failed",
					"node", node.Name(),
					"duration", time.Since(start),
					"kind", outcome(err),
					"error", err)
			} else {
				logger.Info(ctx, "node invoke completed",
					"node", node.Name(),
					"duration", time.Since(start),
					"result_type", fmt.Sprintf("%T", result))
			}

			return result, err
		})
	}
}
