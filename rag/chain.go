package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/llm"
	"github.com/agentstation/runnable/prompt"
)

// DefaultSystemPrompt frames retrieved context for the model. It must
// reference {context}.
const DefaultSystemPrompt = `Answer the following question based only on the provided context. Think step by step before answering.
<context>
{context}
</context>`

// Retriever returns a node that maps a query to the documents r finds. The
// query is a string or a map holding it under "input".
func Retriever(name string, r schema.Retriever) *runnable.Lambda {
	return runnable.NewLambda(name, func(ctx context.Context, input any) (any, error) {
		query, err := question(input)
		if err != nil {
			return nil, err
		}
		return r.GetRelevantDocuments(ctx, query)
	})
}

// StuffDocuments returns a node that joins the content of a document list
// with sep.
func StuffDocuments(name, sep string) *runnable.Lambda {
	return runnable.Func(name, func(_ context.Context, docs []schema.Document) (string, error) {
		parts := make([]string, len(docs))
		for i, d := range docs {
			parts[i] = d.PageContent
		}
		return strings.Join(parts, sep), nil
	})
}

func question(input any) (string, error) {
	switch v := input.(type) {
	case string:
		return v, nil
	case map[string]any:
		if q, ok := v["input"].(string); ok {
			return q, nil
		}
	}
	return "", fmt.Errorf("%w: expected a question string, got %T", runnable.ErrInvalidInput, input)
}

type chainConfig struct {
	name      string
	system    string
	separator string
	llmOpts   []llm.Option
	opts      []runnable.Option
}

// ChainOption configures NewRetrievalChain.
type ChainOption func(*chainConfig)

// WithChainName names the chain's outer sequence.
func WithChainName(name string) ChainOption {
	return func(c *chainConfig) {
		c.name = name
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(tmpl string) ChainOption {
	return func(c *chainConfig) {
		c.system = tmpl
	}
}

// WithSeparator sets the string placed between stuffed documents.
func WithSeparator(sep string) ChainOption {
	return func(c *chainConfig) {
		c.separator = sep
	}
}

// WithModelOptions passes options to the model node.
func WithModelOptions(opts ...llm.Option) ChainOption {
	return func(c *chainConfig) {
		c.llmOpts = append(c.llmOpts, opts...)
	}
}

// WithNodeOptions passes options to the chain's sequence and parallel step.
func WithNodeOptions(opts ...runnable.Option) ChainOption {
	return func(c *chainConfig) {
		c.opts = append(c.opts, opts...)
	}
}

// NewRetrievalChain builds a node answering a question from retrieved
// context:
//
//	{context: retrieve | stuff, input: question} | chat prompt | model | text
//
// The input is the question, or a map holding it under "input". The output
// is the answer string.
func NewRetrievalChain(retriever schema.Retriever, model llms.Model, opts ...ChainOption) (runnable.Node, error) {
	cfg := chainConfig{
		name:      "retrieval",
		system:    DefaultSystemPrompt,
		separator: "\n\n",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	chat, err := llm.New(cfg.name+".model", model, cfg.llmOpts...)
	if err != nil {
		return nil, err
	}

	inputs, err := runnable.NewParallel(cfg.name+".inputs", map[string]runnable.Node{
		"context": runnable.Pipe(cfg.name+".context",
			Retriever(cfg.name+".retrieve", retriever),
			StuffDocuments(cfg.name+".stuff", cfg.separator),
		),
		"input": runnable.NewLambda(cfg.name+".question", func(_ context.Context, input any) (any, error) {
			return question(input)
		}),
	}, cfg.opts...)
	if err != nil {
		return nil, err
	}

	template := prompt.NewChatTemplate(cfg.name+".prompt",
		prompt.System(cfg.system),
		prompt.Human("{input}"),
	)

	seq, err := runnable.NewSequence(cfg.name, []runnable.Node{
		inputs,
		template,
		chat,
		prompt.StringOutput(cfg.name + ".answer"),
	}, cfg.opts...)
	if err != nil {
		return nil, err
	}
	return seq, nil
}
