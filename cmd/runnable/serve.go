package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/definition"
	"github.com/agentstation/runnable/serve"
)

var (
	serveWatch   bool
	serveTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve <file.yaml>",
	Short: "Serve a YAML definition over NATS request-reply",
	Long: `Every request on the configured subject invokes the definition. Replies are
JSON objects carrying the request id and either an output or an error.
Prometheus metrics are exposed on serve.metrics_addr. With --watch the
definition is rebuilt whenever the file changes.`,
	Example: `  runnable serve pipeline.yaml --watch
  nats req runnable.invoke '{"id": "1", "input": "hello"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := current.cfg.Serve

		path, err := expandPath(args[0])
		if err != nil {
			return fmt.Errorf("expand path: %w", err)
		}
		path, err = filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("get absolute path: %w", err)
		}

		loader, err := newLoader()
		if err != nil {
			return err
		}
		node, err := loader.LoadFile(path)
		if err != nil {
			return err
		}
		svc := serve.New(current.instrument(node), serve.WithLogger(current.logger), serve.WithTimeout(serveTimeout))

		opts := serve.DefaultConnectOptions(cfg.NATSURL)
		opts.Logger = current.logger
		nc, err := serve.Connect(ctx, opts)
		if err != nil {
			return err
		}
		defer serve.Close(nc) //nolint:errcheck // best effort on exit

		g, ctx := errgroup.WithContext(ctx)
		if cfg.MetricsAddr != "" {
			srv := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           metricsMux(svc),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				current.logger.Info(ctx, "metrics listening", "addr", cfg.MetricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}
		if serveWatch {
			g.Go(func() error {
				return definition.Watch(ctx, path, loader, func(n runnable.Node, err error) {
					if err != nil {
						current.logger.Error(ctx, "reload failed", "path", path, "error", err)
						return
					}
					svc.Swap(current.instrument(n))
					current.logger.Info(ctx, "definition reloaded", "path", path, "node", n.Name())
				})
			})
		}
		g.Go(func() error {
			return svc.Serve(ctx, nc, cfg.Subject, cfg.Queue)
		})

		return g.Wait()
	},
}

func metricsMux(svc *serve.Service) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", svc.MetricsHandler())
	return mux
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Rebuild the definition when the file changes")
	serveCmd.Flags().DurationVar(&serveTimeout, "timeout", 0, "Per-request timeout (0 disables)")
	rootCmd.AddCommand(serveCmd)
}
