package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Redis keeps each session in a Redis list of JSON-encoded messages.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix sets the key prefix. Session keys are prefix + id.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithTTL expires a session ttl after its last write.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// NewRedis creates a Redis-backed history store.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "runnable:history:"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session returns the history stored under id.
func (r *Redis) Session(_ context.Context, id string) (schema.ChatMessageHistory, error) {
	if id == "" {
		return nil, ErrSessionRequired
	}
	return &redisHistory{store: r, key: r.prefix + id}, nil
}

type redisHistory struct {
	store *Redis
	key   string
}

var _ schema.ChatMessageHistory = (*redisHistory)(nil)

func (h *redisHistory) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	raw, err := h.store.client.LRange(ctx, h.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: load %s: %w", h.key, err)
	}

	records := make([]record, len(raw))
	for i, s := range raw {
		if err := json.Unmarshal([]byte(s), &records[i]); err != nil {
			return nil, fmt.Errorf("history: decode %s[%d]: %w", h.key, i, err)
		}
	}
	return toMessages(records)
}

func (h *redisHistory) AddMessage(ctx context.Context, message llms.ChatMessage) error {
	return h.push(ctx, false, message)
}

func (h *redisHistory) AddUserMessage(ctx context.Context, message string) error {
	return h.AddMessage(ctx, llms.HumanChatMessage{Content: message})
}

func (h *redisHistory) AddAIMessage(ctx context.Context, message string) error {
	return h.AddMessage(ctx, llms.AIChatMessage{Content: message})
}

func (h *redisHistory) Clear(ctx context.Context) error {
	if err := h.store.client.Del(ctx, h.key).Err(); err != nil {
		return fmt.Errorf("history: clear %s: %w", h.key, err)
	}
	return nil
}

func (h *redisHistory) SetMessages(ctx context.Context, messages []llms.ChatMessage) error {
	return h.push(ctx, true, messages...)
}

func (h *redisHistory) push(ctx context.Context, replace bool, messages ...llms.ChatMessage) error {
	values := make([]any, len(messages))
	for i, m := range messages {
		b, err := json.Marshal(toRecord(m))
		if err != nil {
			return fmt.Errorf("history: encode: %w", err)
		}
		values[i] = b
	}

	_, err := h.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if replace {
			pipe.Del(ctx, h.key)
		}
		if len(values) > 0 {
			pipe.RPush(ctx, h.key, values...)
		}
		if h.store.ttl > 0 {
			pipe.Expire(ctx, h.key, h.store.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: write %s: %w", h.key, err)
	}
	return nil
}
