package prompt

import (
	"context"
	"fmt"
	"slices"

	"github.com/tmc/langchaingo/prompts"
)

// FewShot renders a prefix, a list of formatted examples, and a suffix.
type FewShot struct {
	name   string
	prompt *prompts.FewShotPrompt
}

// NewFewShot formats each example with examplePrompt and joins them between
// prefix and suffix. Only prefix and suffix see the invocation's variables.
func NewFewShot(name, examplePrompt string, examples []map[string]string, prefix, suffix string) (*FewShot, error) {
	vars := Variables(prefix + "\n" + suffix)
	p, err := prompts.NewFewShotPrompt(
		newFString(examplePrompt),
		examples,
		nil,
		prefix,
		suffix,
		vars,
		nil,
		"\n\n",
		prompts.TemplateFormatFString,
		true,
	)
	if err != nil {
		return nil, fmt.Errorf("prompt: few-shot %q: %w", name, err)
	}
	return &FewShot{name: name, prompt: p}, nil
}

// Name returns the node's identifier.
func (f *FewShot) Name() string {
	return f.name
}

// InputVariables returns the prefix and suffix placeholders.
func (f *FewShot) InputVariables() []string {
	return slices.Clone(f.prompt.InputVariables)
}

// Invoke renders the prompt as a string.
func (f *FewShot) Invoke(_ context.Context, input any) (any, error) {
	values, err := variables(f.prompt.InputVariables, input)
	if err != nil {
		return nil, failure(f.name, err)
	}

	out, err := f.prompt.Format(values)
	if err != nil {
		return nil, failure(f.name, err)
	}
	return out, nil
}
