package llm

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/agentstation/runnable/internal/config"
)

// Supported providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderFake   = "fake"
)

// ErrUnknownProvider is returned for a provider Open does not support.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Open builds a chat model from configuration. The fake provider answers
// with the model name, which is handy for wiring checks without a server.
func Open(cfg config.ModelConfig) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Name)}
		if cfg.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("open ollama model %q: %w", cfg.Name, err)
		}
		return m, nil

	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.Name)}
		if cfg.ServerURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.ServerURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("open openai model %q: %w", cfg.Name, err)
		}
		return m, nil

	case ProviderFake:
		return fake.NewFakeLLM([]string{cfg.Name}), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// Embedder builds an embedder backed by model. The model must be able to
// create embeddings, which the ollama and openai clients can.
func Embedder(model llms.Model) (embeddings.Embedder, error) {
	client, ok := model.(embeddings.EmbedderClient)
	if !ok {
		return nil, fmt.Errorf("%w: %T cannot create embeddings", ErrUnknownProvider, model)
	}
	return embeddings.NewEmbedder(client)
}
