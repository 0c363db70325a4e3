package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/tmc/langchaingo/llms"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/prompt"
)

// FinalAnswer is the action that ends the loop.
const FinalAnswer = "Final Answer"

var (
	// ErrMaxIterations is returned when the model does not reach a final
	// answer within the iteration limit.
	ErrMaxIterations = errors.New("agent: max iterations reached")

	// ErrNoAction is returned for a reply without a JSON action blob.
	ErrNoAction = errors.New("agent: no action in reply")
)

var (
	actionPath = jp.MustParseString("$.action")
	inputPath  = jp.MustParseString("$.action_input")
)

// DefaultSystemPrompt instructs the model to answer with JSON action blobs.
// {tools} and {tool_names} are filled from the toolbox.
const DefaultSystemPrompt = `Respond to the human as helpfully and accurately as possible. You have access to the following tools:

{tools}
Use a JSON blob to specify a tool by providing an "action" key (tool name) and an "action_input" key (tool input).

Valid "action" values: "Final Answer" or {tool_names}

Provide only ONE action per JSON blob, as shown:

{{"action": "Final Answer", "action_input": "Final response to human"}}

After each action you will receive an Observation. Reply with the final answer once you know it.`

// Action is one parsed model decision.
type Action struct {
	Name  string
	Input map[string]any
}

// Final reports whether the action ends the loop.
func (a Action) Final() bool {
	return a.Name == FinalAnswer
}

// Answer returns the final answer text.
func (a Action) Answer() string {
	if s, ok := a.Input["input"].(string); ok && len(a.Input) == 1 {
		return s
	}
	return toolInput(a.Input)
}

// ParseAction extracts the JSON action blob from a model reply. The
// blob may be wrapped in a code fence or surrounded by reasoning text.
func ParseAction(reply string) (Action, error) {
	blob := reply
	if start, end := strings.Index(reply, "{"), strings.LastIndex(reply, "}"); start >= 0 && end > start {
		blob = reply[start : end+1]
	}

	data, err := oj.ParseString(blob)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrNoAction, err)
	}

	name, _ := actionPath.First(data).(string)
	if name == "" {
		return Action{}, fmt.Errorf("%w: missing \"action\"", ErrNoAction)
	}

	act := Action{Name: name}
	switch in := inputPath.First(data).(type) {
	case nil:
		act.Input = map[string]any{}
	case map[string]any:
		act.Input = in
	case string:
		act.Input = map[string]any{"input": in}
	default:
		act.Input = map[string]any{"input": oj.JSON(in)}
	}
	return act, nil
}

// Executor is a node that runs the tool loop. Its input is a question string
// or a map with "input" and an optional "history" []llms.ChatMessage. Its
// output is the final answer string.
type Executor struct {
	name          string
	model         llms.Model
	toolbox       *Toolbox
	system        string
	template      *prompt.Template
	maxIterations int
	callOptions   []llms.CallOption
	logger        runnable.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxIterations bounds the number of model calls.
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		e.maxIterations = n
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(tmpl string) Option {
	return func(e *Executor) {
		e.system = tmpl
	}
}

// WithCallOptions passes options to every model call.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(e *Executor) {
		e.callOptions = append(e.callOptions, opts...)
	}
}

// WithLogger logs every step.
func WithLogger(logger runnable.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates a tool loop over model and toolbox.
func NewExecutor(name string, model llms.Model, toolbox *Toolbox, opts ...Option) (*Executor, error) {
	if model == nil || toolbox == nil {
		return nil, fmt.Errorf("%w: executor %q needs a model and a toolbox", runnable.ErrNilNode, name)
	}

	e := &Executor{
		name:          name,
		model:         model,
		toolbox:       toolbox,
		system:        DefaultSystemPrompt,
		maxIterations: 10,
		logger:        nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxIterations < 1 {
		return nil, fmt.Errorf("%w: max iterations %d", runnable.ErrInvalidAttempts, e.maxIterations)
	}

	tmpl, err := prompt.NewTemplate(name+".system", e.system)
	if err != nil {
		return nil, err
	}
	e.template = tmpl
	return e, nil
}

// Name returns the node's identifier.
func (e *Executor) Name() string {
	return e.name
}

// Invoke runs the loop until the model gives a final answer.
func (e *Executor) Invoke(ctx context.Context, input any) (any, error) {
	msgs, err := e.start(ctx, input)
	if err != nil {
		return nil, e.fail(err)
	}

	for step := 1; step <= e.maxIterations; step++ {
		resp, err := e.model.GenerateContent(ctx, msgs, e.callOptions...)
		if err != nil {
			return nil, e.fail(err)
		}
		if len(resp.Choices) == 0 {
			return nil, e.fail(fmt.Errorf("step %d: empty response", step))
		}
		reply := resp.Choices[0].Content
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, reply))

		act, err := ParseAction(reply)
		if err != nil {
			e.logger.Debug(ctx, "agent reply unparsable", "name", e.name, "step", step, "error", err)
			msgs = append(msgs, observation("Invalid format: reply with a single JSON blob containing \"action\" and \"action_input\"."))
			continue
		}

		if act.Final() {
			e.logger.Info(ctx, "agent finished", "name", e.name, "steps", step)
			return act.Answer(), nil
		}

		e.logger.Debug(ctx, "agent calling tool", "name", e.name, "step", step, "tool", act.Name)
		obs, err := e.toolbox.Call(ctx, act.Name, act.Input)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, e.fail(ctxErr)
			}
			obs = "Error: " + err.Error()
		}
		msgs = append(msgs, observation(obs))
	}

	e.logger.Error(ctx, "agent gave up", "name", e.name, "iterations", e.maxIterations)
	return nil, e.fail(fmt.Errorf("%w: %d", ErrMaxIterations, e.maxIterations))
}

func (e *Executor) start(ctx context.Context, input any) ([]llms.MessageContent, error) {
	var (
		question string
		history  []llms.ChatMessage
	)
	switch v := input.(type) {
	case string:
		question = v
	case map[string]any:
		q, ok := v["input"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: missing \"input\" string", runnable.ErrInvalidInput)
		}
		question = q
		if h, ok := v["history"].([]llms.ChatMessage); ok {
			history = h
		}
	default:
		return nil, fmt.Errorf("%w: expected a question, got %T", runnable.ErrInvalidInput, input)
	}

	names := make([]string, 0, len(e.toolbox.names))
	for _, n := range e.toolbox.names {
		names = append(names, fmt.Sprintf("%q", n))
	}
	system, err := e.template.Invoke(ctx, map[string]any{
		"tools":      e.toolbox.Describe(),
		"tool_names": strings.Join(names, ", "),
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]llms.MessageContent, 0, len(history)+2)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, system.(string)))
	for _, m := range history {
		msgs = append(msgs, llms.TextParts(m.GetType(), m.GetContent()))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, question))
	return msgs, nil
}

func observation(text string) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageTypeHuman, "Observation: "+text)
}

func (e *Executor) fail(err error) error {
	return &runnable.NodeError{Kind: runnable.InvocationFailed, Node: e.name, Index: -1, Cause: err}
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
