package definition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/tmc/langchaingo/llms"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/llm"
	"github.com/agentstation/runnable/prompt"
)

var (
	// ErrNoModel is returned when an llm op is built without a model.
	ErrNoModel = errors.New("definition: llm op needs a model")

	// ErrValidation is returned by the validate op for non-conforming input.
	ErrValidation = errors.New("definition: input does not match schema")

	// ErrFail is the cause returned by the fail op.
	ErrFail = errors.New("definition: fail op")
)

// DefaultRegistry registers every builtin op. The llm op is only usable when
// model is non-nil.
func DefaultRegistry(model llms.Model) *Registry {
	r := NewRegistry()
	for _, b := range []OpBuilder{
		constOp(),
		caseOp("upper", "Converts text to upper case", func() cases.Caser { return cases.Upper(language.Und) }),
		caseOp("lower", "Converts text to lower case", func() cases.Caser { return cases.Lower(language.Und) }),
		caseOp("title", "Converts text to title case", func() cases.Caser { return cases.Title(language.Und) }),
		templateOp(),
		jsonPathOp(),
		validateOp(),
		arithmeticOp("add", "value", "Adds a number to the input", func(x, y float64) float64 { return x + y }),
		arithmeticOp("multiply", "factor", "Multiplies the input by a number", func(x, y float64) float64 { return x * y }),
		arithmeticOp("power", "exponent", "Raises the input to a power", math.Pow),
		delayOp(),
		failOp(),
		luaOp(),
		jsOp(),
		llmOp(model),
	} {
		r.Register(b)
	}
	return r
}

func constOp() OpBuilder {
	return NewOp(OpMetadata{
		Op:          "const",
		Category:    "core",
		Description: "Ignores its input and returns a fixed value",
		ConfigSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"value": map[string]any{}},
			"required":   []string{"value"},
		},
		Examples: []OpExample{{Name: "greeting", Config: map[string]any{"value": "hello"}, Input: 1, Output: "hello"}},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		value := config["value"]
		return runnable.NewLambda(name, func(context.Context, any) (any, error) {
			return value, nil
		}), nil
	})
}

// caseOp takes a constructor because a Caser is not safe for concurrent use.
func caseOp(op, description string, newCaser func() cases.Caser) OpBuilder {
	return NewOp(OpMetadata{
		Op:          op,
		Category:    "text",
		Description: description,
	}, func(name string, _ map[string]any) (runnable.Node, error) {
		return runnable.NewLambda(name, func(_ context.Context, input any) (any, error) {
			s, err := prompt.Text(input)
			if err != nil {
				return nil, err
			}
			return newCaser().String(s), nil
		}), nil
	})
}

func templateOp() OpBuilder {
	return NewOp(OpMetadata{
		Op:          "template",
		Category:    "text",
		Description: "Formats an f-string template with the input's fields",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"template": map[string]any{"type": "string", "minLength": 1},
			},
			"required": []string{"template"},
		},
		Examples: []OpExample{{
			Name:   "greet",
			Config: map[string]any{"template": "Hello {name}!"},
			Input:  map[string]any{"name": "Ada"},
			Output: "Hello Ada!",
		}},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		s, _ := config["template"].(string)
		tmpl, err := prompt.NewTemplate(name, s)
		if err != nil {
			return nil, err
		}
		return tmpl, nil
	})
}

func jsonPathOp() OpBuilder {
	return NewOp(OpMetadata{
		Op:          "jsonpath",
		Category:    "data",
		Description: "Extracts data with a JSONPath expression",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":     map[string]any{"type": "string", "minLength": 1},
				"multiple": map[string]any{"type": "boolean", "default": false},
				"default":  map[string]any{},
				"unwrap":   map[string]any{"type": "boolean", "default": true},
			},
			"required": []string{"path"},
		},
		Examples: []OpExample{
			{
				Name:   "field",
				Config: map[string]any{"path": "$.user.name"},
				Input:  map[string]any{"user": map[string]any{"name": "Alice"}},
				Output: "Alice",
			},
			{
				Name:   "all prices",
				Config: map[string]any{"path": "$.items[*].price", "multiple": true},
				Input:  map[string]any{"items": []any{map[string]any{"price": 10.99}, map[string]any{"price": 2.5}}},
				Output: []any{10.99, 2.5},
			},
		},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		path, _ := config["path"].(string)
		expr, err := jp.ParseString(path)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: jsonpath %q: %v", ErrInvalidDefinition, name, path, err)
		}
		multiple, _ := config["multiple"].(bool)
		unwrap := true
		if u, ok := config["unwrap"].(bool); ok {
			unwrap = u
		}
		def := config["default"]

		return runnable.NewLambda(name, func(_ context.Context, input any) (any, error) {
			results := expr.Get(input)
			if len(results) == 0 {
				if def != nil {
					return def, nil
				}
				if multiple {
					return []any{}, nil
				}
				return nil, nil
			}
			if multiple {
				return results, nil
			}
			result := results[0]
			if arr, ok := result.([]any); ok && unwrap && len(arr) == 1 {
				result = arr[0]
			}
			return result, nil
		}), nil
	})
}

func validateOp() OpBuilder {
	return NewOp(OpMetadata{
		Op:          "validate",
		Category:    "data",
		Description: "Passes the input through when it matches a JSON schema",
		ConfigSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"schema": map[string]any{"type": "object"}},
			"required":   []string{"schema"},
		},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(config["schema"]))
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: schema: %v", ErrInvalidDefinition, name, err)
		}
		return runnable.NewLambda(name, func(_ context.Context, input any) (any, error) {
			result, err := schema.Validate(gojsonschema.NewGoLoader(input))
			if err != nil {
				return nil, err
			}
			if !result.Valid() {
				return nil, fmt.Errorf("%w: %s", ErrValidation, result.Errors()[0].String())
			}
			return input, nil
		}), nil
	})
}

func arithmeticOp(op, param, description string, fn func(x, y float64) float64) OpBuilder {
	return NewOp(OpMetadata{
		Op:          op,
		Category:    "math",
		Description: description,
		ConfigSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{param: map[string]any{"type": "number"}},
			"required":   []string{param},
		},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		y, ok := toFloat(config[param])
		if !ok {
			return nil, fmt.Errorf("%w: node %q: %s must be a number", ErrInvalidDefinition, name, param)
		}
		return runnable.NewLambda(name, func(_ context.Context, input any) (any, error) {
			x, ok := toFloat(input)
			if !ok {
				return nil, fmt.Errorf("%w: %s expects a number, got %T", runnable.ErrInvalidInput, op, input)
			}
			return number(fn(x, y)), nil
		}), nil
	})
}

func delayOp() OpBuilder {
	return NewOp(OpMetadata{
		Op:          "delay",
		Category:    "core",
		Description: "Waits before passing the input through",
		ConfigSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"duration": map[string]any{"type": "string"}},
			"required":   []string{"duration"},
		},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		s, _ := config["duration"].(string)
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: duration: %v", ErrInvalidDefinition, name, err)
		}
		return runnable.NewLambda(name, func(ctx context.Context, input any) (any, error) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
				return input, nil
			}
		}), nil
	})
}

func failOp() OpBuilder {
	return NewOp(OpMetadata{
		Op:          "fail",
		Category:    "core",
		Description: "Fails the first times calls, then passes the input through. Zero times always fails",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
				"times":   map[string]any{"type": "integer", "minimum": 0},
			},
		},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		msg, _ := config["message"].(string)
		if msg == "" {
			msg = "failed"
		}
		times, _ := toFloat(config["times"])
		limit := int64(times)

		var calls atomic.Int64
		return runnable.NewLambda(name, func(_ context.Context, input any) (any, error) {
			n := calls.Add(1)
			if limit == 0 || n <= limit {
				return nil, fmt.Errorf("%w: %s", ErrFail, msg)
			}
			return input, nil
		}), nil
	})
}

func llmOp(model llms.Model) OpBuilder {
	return NewOp(OpMetadata{
		Op:          "llm",
		Category:    "model",
		Description: "Sends the input, optionally formatted by a prompt template, to the configured model and returns its text",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt":      map[string]any{"type": "string"},
				"temperature": map[string]any{"type": "number", "minimum": 0},
				"max_tokens":  map[string]any{"type": "integer", "minimum": 1},
			},
		},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		if model == nil {
			return nil, fmt.Errorf("%w: node %q", ErrNoModel, name)
		}

		var opts []llm.Option
		if t, ok := toFloat(config["temperature"]); ok {
			opts = append(opts, llm.WithTemperature(t))
		}
		if m, ok := toFloat(config["max_tokens"]); ok {
			opts = append(opts, llm.WithMaxTokens(int(m)))
		}
		call, err := llm.New(name+".model", model, opts...)
		if err != nil {
			return nil, err
		}

		nodes := []runnable.Node{call, prompt.StringOutput(name + ".output")}
		if p, _ := config["prompt"].(string); p != "" {
			tmpl, err := prompt.NewTemplate(name+".prompt", p)
			if err != nil {
				return nil, err
			}
			nodes = append([]runnable.Node{tmpl}, nodes...)
		}
		seq, err := runnable.NewSequence(name, nodes)
		if err != nil {
			return nil, err
		}
		return seq, nil
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// number returns integral results as int.
func number(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int(f)
	}
	return f
}
