package rag

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/chroma"

	"github.com/agentstation/runnable/internal/config"
)

// NewChroma opens the configured Chroma collection.
func NewChroma(cfg config.RAGConfig, embedder embeddings.Embedder) (vectorstores.VectorStore, error) {
	store, err := chroma.New(
		chroma.WithChromaURL(cfg.ChromaURL),
		chroma.WithNameSpace(cfg.Collection),
		chroma.WithEmbedder(embedder),
	)
	if err != nil {
		return nil, fmt.Errorf("open chroma collection %q: %w", cfg.Collection, err)
	}
	return store, nil
}
