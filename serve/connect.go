package serve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agentstation/runnable"
)

// ErrNoURL is returned by Connect without a server URL.
var ErrNoURL = errors.New("serve: NATS URL is required")

// ConnectOptions configures the NATS connection.
type ConnectOptions struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Logger        runnable.Logger
}

// DefaultConnectOptions returns options for url with bounded reconnects.
func DefaultConnectOptions(url string) ConnectOptions {
	return ConnectOptions{
		URL:           url,
		Name:          "runnable",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect dials NATS, giving up when ctx is done.
func Connect(ctx context.Context, opts ConnectOptions) (*nats.Conn, error) {
	if opts.URL == "" {
		return nil, ErrNoURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error(ctx, "nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(ctx, "nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug(ctx, "nats connection closed")
		}),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(opts.URL, natsOpts...)
		done <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connect %s: %w", opts.URL, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connect %s: %w", opts.URL, r.err)
		}
		return r.conn, nil
	}
}

// Close drains the connection, closing it outright if draining fails.
func Close(nc *nats.Conn) error {
	if nc == nil {
		return nil
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("drain connection: %w", err)
	}
	return nil
}
