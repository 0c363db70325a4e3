package middleware

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"

	"github.com/agentstation/runnable"
)

// Sentry reports failures to hub, tagged with the node name and failure
// kind. A hub carried in the context takes precedence. Context
// cancellations are not reported.
func Sentry(hub *sentry.Hub) Middleware {
	return func(node runnable.Node) runnable.Node {
		return wrap(node, func(ctx context.Context, input any) (any, error) {
			result, err := node.Invoke(ctx, input)
			if err == nil || errors.Is(err, context.Canceled) {
				return result, err
			}

			h := hub
			if ctxHub := sentry.GetHubFromContext(ctx); ctxHub != nil {
				h = ctxHub
			}
			if h != nil {
				h.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("runnable.node", node.Name())
					scope.SetTag("runnable.kind", outcome(err))
					h.CaptureException(err)
				})
			}
			return result, err
		})
	}
}
