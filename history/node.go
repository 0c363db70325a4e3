package history

import (
	"context"
	"fmt"
	"maps"

	"github.com/tmc/langchaingo/llms"

	"github.com/agentstation/runnable"
)

// Node loads a session's history into the input of a wrapped node and
// records the exchange once the node succeeds.
type Node struct {
	name       string
	inner      runnable.Node
	store      Store
	sessionKey string
	inputKey   string
	historyKey string
}

// NodeOption configures a history node.
type NodeOption func(*Node)

// WithSessionKey sets the input key holding the session ID.
func WithSessionKey(key string) NodeOption {
	return func(n *Node) {
		n.sessionKey = key
	}
}

// WithInputKey sets the input key holding the human message.
func WithInputKey(key string) NodeOption {
	return func(n *Node) {
		n.inputKey = key
	}
}

// WithHistoryKey sets the key under which past messages are injected.
func WithHistoryKey(key string) NodeOption {
	return func(n *Node) {
		n.historyKey = key
	}
}

// WithHistory wraps inner so each invocation sees the session's messages.
func WithHistory(name string, inner runnable.Node, store Store, opts ...NodeOption) (*Node, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: history %q", runnable.ErrNilNode, name)
	}
	if store == nil {
		return nil, fmt.Errorf("history: node %q requires a store", name)
	}

	n := &Node{
		name:       name,
		inner:      inner,
		store:      store,
		sessionKey: "session_id",
		inputKey:   "input",
		historyKey: "history",
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Name returns the node's identifier.
func (n *Node) Name() string {
	return n.name
}

// Invoke expects a map input carrying the session ID and the human message.
// The inner node receives a copy of the input with the history added; its
// output is returned unchanged and stored as the AI reply.
func (n *Node) Invoke(ctx context.Context, input any) (any, error) {
	in, ok := input.(map[string]any)
	if !ok {
		return nil, n.fail(fmt.Errorf("%w: expected map[string]any, got %T", runnable.ErrInvalidInput, input))
	}

	id, _ := in[n.sessionKey].(string)
	if id == "" {
		return nil, n.fail(fmt.Errorf("%w (key %q)", ErrSessionRequired, n.sessionKey))
	}

	session, err := n.store.Session(ctx, id)
	if err != nil {
		return nil, n.fail(err)
	}
	past, err := session.Messages(ctx)
	if err != nil {
		return nil, n.fail(err)
	}

	enriched := maps.Clone(in)
	enriched[n.historyKey] = past

	out, err := n.inner.Invoke(ctx, enriched)
	if err != nil {
		return nil, err
	}

	if human, ok := in[n.inputKey]; ok {
		if err := session.AddUserMessage(ctx, fmt.Sprint(human)); err != nil {
			return nil, n.fail(err)
		}
	}
	if err := session.AddAIMessage(ctx, text(out)); err != nil {
		return nil, n.fail(err)
	}
	return out, nil
}

func (n *Node) fail(err error) error {
	return &runnable.NodeError{Kind: runnable.InvocationFailed, Node: n.name, Index: -1, Cause: err}
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case llms.ChatMessage:
		return t.GetContent()
	case *llms.ContentResponse:
		if len(t.Choices) > 0 {
			return t.Choices[0].Content
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}
