// Package llm adapts a langchaingo chat model into a runnable node.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/agentstation/runnable"
)

// ErrEmptyResponse is returned when the model produces no choices.
var ErrEmptyResponse = errors.New("llm: empty response")

// Node calls a chat model. Input is a string, a chat message, a list of chat
// messages, or a list of llms.MessageContent. Output is an llms.AIChatMessage.
type Node struct {
	name    string
	model   llms.Model
	options []llms.CallOption
}

// Option configures a Node.
type Option func(*Node)

// WithStreaming forwards every generated chunk to fn.
func WithStreaming(fn func(ctx context.Context, chunk []byte) error) Option {
	return func(n *Node) {
		n.options = append(n.options, llms.WithStreamingFunc(fn))
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(n *Node) {
		n.options = append(n.options, llms.WithTemperature(t))
	}
}

// WithMaxTokens bounds the length of the reply.
func WithMaxTokens(tokens int) Option {
	return func(n *Node) {
		n.options = append(n.options, llms.WithMaxTokens(tokens))
	}
}

// WithStopWords stops generation at any of words.
func WithStopWords(words ...string) Option {
	return func(n *Node) {
		n.options = append(n.options, llms.WithStopWords(words))
	}
}

// WithCallOptions appends raw langchaingo call options.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(n *Node) {
		n.options = append(n.options, opts...)
	}
}

// New creates a model node.
func New(name string, model llms.Model, opts ...Option) (*Node, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model for %q", runnable.ErrNilNode, name)
	}

	n := &Node{name: name, model: model}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Name returns the node's identifier.
func (n *Node) Name() string {
	return n.name
}

// Invoke sends the input to the model and returns its first choice.
func (n *Node) Invoke(ctx context.Context, input any) (any, error) {
	msgs, err := Messages(input)
	if err != nil {
		return nil, n.fail(err)
	}

	resp, err := n.model.GenerateContent(ctx, msgs, n.options...)
	if err != nil {
		return nil, n.fail(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, n.fail(ErrEmptyResponse)
	}
	return llms.AIChatMessage{Content: resp.Choices[0].Content}, nil
}

func (n *Node) fail(err error) error {
	return &runnable.NodeError{Kind: runnable.InvocationFailed, Node: n.name, Index: -1, Cause: err}
}

// Messages converts a node input into model messages.
func Messages(input any) ([]llms.MessageContent, error) {
	switch v := input.(type) {
	case string:
		return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, v)}, nil
	case []llms.MessageContent:
		return v, nil
	case llms.ChatMessage:
		return []llms.MessageContent{content(v)}, nil
	case []llms.ChatMessage:
		msgs := make([]llms.MessageContent, len(v))
		for i, m := range v {
			msgs[i] = content(m)
		}
		return msgs, nil
	default:
		return nil, fmt.Errorf("%w: cannot send %T to a model", runnable.ErrInvalidInput, input)
	}
}

func content(m llms.ChatMessage) llms.MessageContent {
	return llms.TextParts(m.GetType(), m.GetContent())
}
