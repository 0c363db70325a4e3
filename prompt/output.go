package prompt

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ohler55/ojg/oj"
	"github.com/tmc/langchaingo/llms"

	"github.com/agentstation/runnable"
)

// Text extracts the text of a model reply. It accepts a string, a chat
// message, a content response, or a message list, whose last entry wins.
func Text(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case llms.ChatMessage:
		return t.GetContent(), nil
	case []llms.ChatMessage:
		if len(t) == 0 {
			return "", nil
		}
		return t[len(t)-1].GetContent(), nil
	case *llms.ContentResponse:
		if t == nil || len(t.Choices) == 0 {
			return "", nil
		}
		return t.Choices[0].Content, nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("%w: cannot read text from %T", runnable.ErrInvalidInput, v)
	}
}

// StringOutput returns a node that reduces a model reply to its text.
func StringOutput(name string) *runnable.Lambda {
	return runnable.NewLambda(name, func(_ context.Context, input any) (any, error) {
		return Text(input)
	})
}

var fence = regexp.MustCompile("(?s)^```[A-Za-z0-9]*\\s*\\n(.*?)\\n?```$")

// ParseJSON parses model text as JSON. Surrounding code fences are removed.
func ParseJSON(s string) (any, error) {
	s = strings.TrimSpace(s)
	if m := fence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	v, err := oj.ParseString(s)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return v, nil
}

// JSONOutput returns a node that parses a model reply as JSON.
func JSONOutput(name string) *runnable.Lambda {
	return runnable.NewLambda(name, func(_ context.Context, input any) (any, error) {
		s, err := Text(input)
		if err != nil {
			return nil, err
		}
		return ParseJSON(s)
	})
}
