// Package prompt provides nodes that turn input variables into model
// prompts and model output back into values.
package prompt

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"github.com/tmc/langchaingo/prompts"

	"github.com/agentstation/runnable"
)

// placeholder matches {var}. An even run of opening braces is an escape.
var placeholder = regexp.MustCompile(`(\{+)\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}+`)

// Variables returns the distinct {var} placeholders of an f-string template
// in order of first appearance.
func Variables(tmpl string) []string {
	var vars []string
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		if len(m[1])%2 == 1 && !slices.Contains(vars, m[2]) {
			vars = append(vars, m[2])
		}
	}
	return vars
}

func newFString(tmpl string) prompts.PromptTemplate {
	return prompts.PromptTemplate{
		Template:       tmpl,
		InputVariables: Variables(tmpl),
		TemplateFormat: prompts.TemplateFormatFString,
	}
}

// Template renders an f-string template into a string.
type Template struct {
	name   string
	prompt prompts.PromptTemplate
}

// NewTemplate parses tmpl, whose placeholders use the {var} form.
func NewTemplate(name, tmpl string) (*Template, error) {
	p := newFString(tmpl)
	if err := prompts.CheckValidTemplate(tmpl, prompts.TemplateFormatFString, p.InputVariables); err != nil {
		return nil, fmt.Errorf("prompt: template %q: %w", name, err)
	}
	return &Template{name: name, prompt: p}, nil
}

// Name returns the node's identifier.
func (t *Template) Name() string {
	return t.name
}

// InputVariables returns the template's placeholders.
func (t *Template) InputVariables() []string {
	return slices.Clone(t.prompt.InputVariables)
}

// Invoke formats the template. Input is a map of variables, or a bare value
// when the template has exactly one variable.
func (t *Template) Invoke(_ context.Context, input any) (any, error) {
	values, err := variables(t.prompt.InputVariables, input)
	if err != nil {
		return nil, failure(t.name, err)
	}

	out, err := t.prompt.Format(values)
	if err != nil {
		return nil, failure(t.name, err)
	}
	return out, nil
}

func variables(names []string, input any) (map[string]any, error) {
	switch v := input.(type) {
	case map[string]any:
		return v, nil
	case map[string]string:
		values := make(map[string]any, len(v))
		for k, s := range v {
			values[k] = s
		}
		return values, nil
	}

	if len(names) == 1 {
		return map[string]any{names[0]: input}, nil
	}
	return nil, fmt.Errorf("%w: expected map[string]any for %d variables, got %T", runnable.ErrInvalidInput, len(names), input)
}

func failure(name string, err error) error {
	return &runnable.NodeError{Kind: runnable.InvocationFailed, Node: name, Index: -1, Cause: err}
}
