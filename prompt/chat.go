package prompt

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// System returns a system message template.
func System(tmpl string) prompts.MessageFormatter {
	return prompts.SystemMessagePromptTemplate{Prompt: newFString(tmpl)}
}

// Human returns a human message template.
func Human(tmpl string) prompts.MessageFormatter {
	return prompts.HumanMessagePromptTemplate{Prompt: newFString(tmpl)}
}

// AI returns an AI message template.
func AI(tmpl string) prompts.MessageFormatter {
	return prompts.AIMessagePromptTemplate{Prompt: newFString(tmpl)}
}

// Placeholder inserts the []llms.ChatMessage held by variable. A missing or
// nil variable inserts nothing.
func Placeholder(variable string) prompts.MessageFormatter {
	return messagesPlaceholder{variable: variable}
}

type messagesPlaceholder struct {
	variable string
}

func (p messagesPlaceholder) FormatMessages(values map[string]any) ([]llms.ChatMessage, error) {
	switch v := values[p.variable].(type) {
	case nil:
		return nil, nil
	case []llms.ChatMessage:
		return v, nil
	case llms.ChatMessage:
		return []llms.ChatMessage{v}, nil
	default:
		return nil, fmt.Errorf("%w: variable %q has type %T", prompts.ErrNeedChatMessageList, p.variable, v)
	}
}

func (p messagesPlaceholder) GetInputVariables() []string {
	return []string{p.variable}
}

// ChatTemplate renders a list of message templates into chat messages.
type ChatTemplate struct {
	name   string
	prompt prompts.ChatPromptTemplate
	vars   []string
}

// NewChatTemplate creates a chat template from message templates built with
// System, Human, AI and Placeholder.
func NewChatTemplate(name string, messages ...prompts.MessageFormatter) *ChatTemplate {
	var vars []string
	for _, m := range messages {
		if _, ok := m.(messagesPlaceholder); ok {
			continue
		}
		vars = append(vars, m.GetInputVariables()...)
	}
	return &ChatTemplate{
		name:   name,
		prompt: prompts.NewChatPromptTemplate(messages),
		vars:   vars,
	}
}

// Name returns the node's identifier.
func (c *ChatTemplate) Name() string {
	return c.name
}

// Invoke formats every message. The output is a []llms.ChatMessage.
func (c *ChatTemplate) Invoke(_ context.Context, input any) (any, error) {
	values, err := variables(c.vars, input)
	if err != nil {
		return nil, failure(c.name, err)
	}

	msgs, err := c.prompt.FormatMessages(values)
	if err != nil {
		return nil, failure(c.name, err)
	}
	return msgs, nil
}
