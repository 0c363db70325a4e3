// Package history keeps conversation history outside the node tree. Nodes
// stay stateless; a Store hands out one langchaingo ChatMessageHistory per
// session, and WithHistory threads it through an invocation.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// ErrSessionRequired is returned when an invocation carries no session ID.
var ErrSessionRequired = errors.New("history: session id required")

// Store hands out the history of a session, creating it on first use.
type Store interface {
	Session(ctx context.Context, id string) (schema.ChatMessageHistory, error)
}

// record is the persisted form of a message.
type record struct {
	Role    string `json:"role" db:"role"`
	Content string `json:"content" db:"content"`
}

func toRecord(m llms.ChatMessage) record {
	return record{Role: string(m.GetType()), Content: m.GetContent()}
}

func (r record) message() (llms.ChatMessage, error) {
	switch llms.ChatMessageType(r.Role) {
	case llms.ChatMessageTypeHuman:
		return llms.HumanChatMessage{Content: r.Content}, nil
	case llms.ChatMessageTypeAI:
		return llms.AIChatMessage{Content: r.Content}, nil
	case llms.ChatMessageTypeSystem:
		return llms.SystemChatMessage{Content: r.Content}, nil
	case llms.ChatMessageTypeGeneric:
		return llms.GenericChatMessage{Content: r.Content}, nil
	default:
		return nil, fmt.Errorf("history: %w: %q", llms.ErrUnexpectedChatMessageType, r.Role)
	}
}

func toMessages(records []record) ([]llms.ChatMessage, error) {
	msgs := make([]llms.ChatMessage, 0, len(records))
	for _, r := range records {
		m, err := r.message()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
