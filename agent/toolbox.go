// Package agent runs a tool-using model loop: the model picks a tool, the
// tool's observation is fed back, and the loop ends at a final answer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/tools/wikipedia"
)

var (
	// ErrUnknownTool is returned when the model names a tool that is not
	// in the toolbox.
	ErrUnknownTool = errors.New("agent: unknown tool")

	// ErrDuplicateTool is returned when two tools share a name.
	ErrDuplicateTool = errors.New("agent: duplicate tool")
)

// Toolbox dispatches calls to named tools.
type Toolbox struct {
	tools map[string]tools.Tool
	names []string
}

// NewToolbox creates a toolbox. Tool names must be unique.
func NewToolbox(ts ...tools.Tool) (*Toolbox, error) {
	b := &Toolbox{tools: make(map[string]tools.Tool, len(ts))}
	for _, t := range ts {
		if _, ok := b.tools[t.Name()]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTool, t.Name())
		}
		b.tools[t.Name()] = t
		b.names = append(b.names, t.Name())
	}
	return b, nil
}

// Names returns the tool names in registration order.
func (b *Toolbox) Names() []string {
	return slices.Clone(b.names)
}

// Describe lists every tool as "name: description", one per line.
func (b *Toolbox) Describe() string {
	var sb strings.Builder
	for _, name := range b.names {
		fmt.Fprintf(&sb, "%s: %s\n", name, strings.Join(strings.Fields(b.tools[name].Description()), " "))
	}
	return sb.String()
}

// Call invokes the named tool. A string under "input" is passed as is; any
// other arguments are passed as a JSON object.
func (b *Toolbox) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := b.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	out, err := t.Call(ctx, toolInput(args))
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	return out, nil
}

func toolInput(args map[string]any) string {
	if s, ok := args["input"].(string); ok && len(args) == 1 {
		return s
	}
	if len(args) == 0 {
		return ""
	}
	return oj.JSON(args, &oj.Options{Sort: true})
}

// Func adapts a function into a tool.
func Func(name, description string, fn func(ctx context.Context, input string) (string, error)) tools.Tool {
	return funcTool{name: name, description: description, fn: fn}
}

type funcTool struct {
	name        string
	description string
	fn          func(ctx context.Context, input string) (string, error)
}

func (t funcTool) Name() string        { return t.name }
func (t funcTool) Description() string { return t.description }

func (t funcTool) Call(ctx context.Context, input string) (string, error) {
	return t.fn(ctx, input)
}

// CurrentTime reports the clock's time in H:MM AM/PM form. A nil clock uses
// time.Now.
func CurrentTime(clock func() time.Time) tools.Tool {
	if clock == nil {
		clock = time.Now
	}
	return Func("Current Time", "Useful for when you need to know the current time.",
		func(context.Context, string) (string, error) {
			return clock().Format("03:04 PM"), nil
		})
}

// Wikipedia searches Wikipedia. userAgent identifies the caller to the API.
func Wikipedia(userAgent string) tools.Tool {
	return wikipedia.New(userAgent)
}
