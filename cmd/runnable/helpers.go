package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/ohler55/ojg/oj"
	"github.com/redis/go-redis/v9"

	"github.com/agentstation/runnable/history"
	"github.com/agentstation/runnable/internal/config"
	"github.com/agentstation/runnable/prompt"
)

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// parseInput reads a JSON value, falling back to the raw string.
func parseInput(s string) any {
	if s == "" {
		return nil
	}
	v, err := oj.ParseString(s)
	if err != nil {
		return s
	}
	return v
}

// printResult writes v in the selected output format.
func printResult(w io.Writer, format string, v any) error {
	switch format {
	case jsonFormat:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case yamlFormat:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		_, err = fmt.Fprint(w, string(data))
		return err

	default:
		if s, err := prompt.Text(v); err == nil {
			_, err = fmt.Fprintln(w, s)
			return err
		}
		_, err := fmt.Fprintln(w, oj.JSON(v, &oj.Options{Sort: true}))
		return err
	}
}

// openHistory builds the configured history store. The returned function
// releases its connections.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, func() error, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return history.NewRedis(client, history.WithTTL(cfg.TTL)), client.Close, nil

	case "sql":
		db, err := history.OpenSQL(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := history.NewSQL(db, historyTable)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil

	default:
		store := history.NewMemory(
			history.WithMaxSessions(cfg.MaxSessions),
			history.WithIdleTTL(cfg.TTL),
		)
		return store, func() error { return nil }, nil
	}
}
