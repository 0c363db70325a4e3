// Package config loads runtime settings for the runnable command from a
// config file, RUNNABLE_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/agentstation/runnable"
)

// EnvPrefix prefixes every environment override, e.g. RUNNABLE_MODEL_NAME.
const EnvPrefix = "RUNNABLE"

// Config is the full runtime configuration.
type Config struct {
	Model   ModelConfig   `mapstructure:"model"`
	Retry   RetryConfig   `mapstructure:"retry"`
	History HistoryConfig `mapstructure:"history"`
	RAG     RAGConfig     `mapstructure:"rag"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Log     LogConfig     `mapstructure:"log"`
	Serve   ServeConfig   `mapstructure:"serve"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
}

// ModelConfig selects the chat model.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Name        string  `mapstructure:"name"`
	ServerURL   string  `mapstructure:"server_url"`
	Temperature float64 `mapstructure:"temperature"`
}

// RetryConfig holds the default retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      bool          `mapstructure:"jitter"`
}

// HistoryConfig selects where conversation history is kept.
type HistoryConfig struct {
	Backend     string        `mapstructure:"backend"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	DSN         string        `mapstructure:"dsn"`
	MaxSessions int           `mapstructure:"max_sessions"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// RAGConfig configures document indexing and retrieval.
type RAGConfig struct {
	ChromaURL    string `mapstructure:"chroma_url"`
	Collection   string `mapstructure:"collection"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TopK         int    `mapstructure:"top_k"`
}

// TracingConfig configures the OTLP exporter. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SentryConfig enables error reporting. An empty DSN disables it.
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ServeConfig configures the NATS service.
type ServeConfig struct {
	NATSURL     string `mapstructure:"nats_url"`
	Subject     string `mapstructure:"subject"`
	Queue       string `mapstructure:"queue"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.provider", "ollama")
	v.SetDefault("model.name", "llama3")
	v.SetDefault("model.server_url", "http://localhost:11434")
	v.SetDefault("model.temperature", 0.0)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 100*time.Millisecond)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", 5*time.Second)
	v.SetDefault("retry.jitter", true)

	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.redis_addr", "localhost:6379")
	v.SetDefault("history.max_sessions", 1000)
	v.SetDefault("history.ttl", time.Hour)

	v.SetDefault("rag.chroma_url", "http://localhost:8000")
	v.SetDefault("rag.collection", "runnable")
	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.top_k", 4)

	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("serve.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("serve.subject", "runnable.invoke")
	v.SetDefault("serve.metrics_addr", ":9090")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
}

// Load reads configuration into a Config. path may be empty, in which case
// only defaults, environment and bound flags apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case "ollama", "openai", "fake":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not one of ollama, openai, fake", c.Model.Provider))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	switch c.History.Backend {
	case "memory", "redis", "sql":
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is not one of memory, redis, sql", c.History.Backend))
	}
	if c.History.Backend == "sql" && c.History.DSN == "" {
		errs = append(errs, errors.New("history.dsn is required for the sql backend"))
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk_overlap (%d) must be smaller than rag.chunk_size (%d)", c.RAG.ChunkOverlap, c.RAG.ChunkSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RetryOptions converts the retry section to node options.
func (c *Config) RetryOptions() []runnable.Option {
	return []runnable.Option{
		runnable.WithMaxAttempts(c.Retry.MaxAttempts),
		runnable.WithBackoff(c.Retry.BaseDelay, c.Retry.Multiplier),
		runnable.WithMaxDelay(c.Retry.MaxDelay),
		runnable.WithJitter(c.Retry.Jitter),
	}
}
