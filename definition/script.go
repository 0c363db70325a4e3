package definition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"
	"github.com/dop251/goja"
	"github.com/ohler55/ojg/oj"

	"github.com/agentstation/runnable"
)

// ErrScript wraps failures raised inside lua and js scripts.
var ErrScript = errors.New("definition: script error")

func luaOp() OpBuilder {
	return NewOp(OpMetadata{
		Op:       "lua",
		Category: "script",
		Description: "Runs a sandboxed Lua script. The input is the global input; " +
			"the result is exec(input) when the script defines exec, otherwise the chunk's return value",
		ConfigSchema: scriptSchema,
		Examples: []OpExample{{
			Name:   "double",
			Config: map[string]any{"script": "return input * 2"},
			Input:  21,
			Output: 42,
		}},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		script, _ := config["script"].(string)
		if err := checkLua(script); err != nil {
			return nil, fmt.Errorf("%w: node %q: %v", ErrInvalidDefinition, name, err)
		}
		return runnable.NewLambda(name, func(ctx context.Context, input any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return runLua(script, input)
		}), nil
	})
}

func jsOp() OpBuilder {
	return NewOp(OpMetadata{
		Op:       "js",
		Category: "script",
		Description: "Runs a JavaScript function body. The input is bound to input " +
			"and the returned value is the output",
		ConfigSchema: scriptSchema,
		Examples: []OpExample{{
			Name:   "greet",
			Config: map[string]any{"script": "return 'hi ' + input.name"},
			Input:  map[string]any{"name": "Ada"},
			Output: "hi Ada",
		}},
	}, func(name string, config map[string]any) (runnable.Node, error) {
		script, _ := config["script"].(string)
		prog, err := compileJS(name, "(function(input) {\n"+script+"\n})(input)")
		if err != nil {
			return nil, err
		}
		return runnable.NewLambda(name, func(ctx context.Context, input any) (any, error) {
			v, err := runJS(ctx, prog, input)
			if err != nil {
				return nil, err
			}
			return normalize(v.Export()), nil
		}), nil
	})
}

var scriptSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"script": map[string]any{"type": "string", "minLength": 1},
	},
	"required": []string{"script"},
}

// predicate compiles a branch condition. Lua is the default language.
func predicate(name string, c *CaseDef) (runnable.Predicate, error) {
	switch c.Lang {
	case LangJS:
		prog, err := compileJS(name, "(function(input) {\nreturn ("+c.When+");\n})(input)")
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, input any) (bool, error) {
			v, err := runJS(ctx, prog, input)
			if err != nil {
				return false, err
			}
			return v.ToBoolean(), nil
		}, nil

	default:
		script := "return (" + c.When + ")"
		if err := checkLua(script); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, name, err)
		}
		return func(ctx context.Context, input any) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			v, err := runLua(script, input)
			if err != nil {
				return false, err
			}
			return truthy(v), nil
		}, nil
	}
}

// truthy follows Lua: only nil and false are false.
func truthy(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return v != nil
}

func checkLua(script string) error {
	l := lua.NewState()
	return lua.LoadString(l, script)
}

// runLua runs script in a fresh sandboxed state. States are not safe for
// concurrent use, so every call gets its own.
func runLua(script string, input any) (any, error) {
	l := lua.NewState()
	sandbox(l)

	pushValue(l, input)
	l.SetGlobal("input")

	if err := lua.DoString(l, script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}

	l.Global("exec")
	if l.TypeOf(-1) == lua.TypeFunction {
		pushValue(l, input)
		if err := l.ProtectedCall(1, 1, 0); err != nil {
			return nil, fmt.Errorf("%w: exec: %v", ErrScript, err)
		}
		return pullValue(l, -1), nil
	}
	l.Pop(1)

	if l.Top() > 0 {
		return pullValue(l, -1), nil
	}
	return nil, nil
}

func sandbox(l *lua.State) {
	for _, lib := range []struct {
		name string
		open lua.Function
	}{
		{"_G", lua.BaseOpen},
		{"string", lua.StringOpen},
		{"table", lua.TableOpen},
		{"math", lua.MathOpen},
	} {
		lua.Require(l, lib.name, lib.open, true)
		l.Pop(1)
	}

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "print"} {
		l.PushNil()
		l.SetGlobal(name)
	}

	l.Register("json_encode", func(l *lua.State) int {
		l.PushString(oj.JSON(pullValue(l, 1), &oj.Options{Sort: true}))
		return 1
	})
	l.Register("json_decode", func(l *lua.State) int {
		v, err := oj.ParseString(lua.CheckString(l, 1))
		if err != nil {
			l.PushNil()
			l.PushString(err.Error())
			return 2
		}
		pushValue(l, v)
		return 1
	})
	l.Register("str_trim", func(l *lua.State) int {
		l.PushString(strings.TrimSpace(lua.CheckString(l, 1)))
		return 1
	})
	l.Register("str_contains", func(l *lua.State) int {
		l.PushBoolean(strings.Contains(lua.CheckString(l, 1), lua.CheckString(l, 2)))
		return 1
	})
	l.Register("str_split", func(l *lua.State) int {
		parts := strings.Split(lua.CheckString(l, 1), lua.CheckString(l, 2))
		l.NewTable()
		for i, p := range parts {
			l.PushInteger(i + 1)
			l.PushString(p)
			l.SetTable(-3)
		}
		return 1
	})
}

func pushValue(l *lua.State, v any) {
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case string:
		l.PushString(val)
	case []any:
		l.NewTable()
		for i, item := range val {
			l.PushInteger(i + 1)
			pushValue(l, item)
			l.SetTable(-3)
		}
	case []string:
		l.NewTable()
		for i, item := range val {
			l.PushInteger(i + 1)
			l.PushString(item)
			l.SetTable(-3)
		}
	case map[string]any:
		l.NewTable()
		for k, item := range val {
			l.PushString(k)
			pushValue(l, item)
			l.SetTable(-3)
		}
	default:
		if f, ok := toFloat(val); ok {
			l.PushNumber(f)
			return
		}
		l.PushString(oj.JSON(val))
	}
}

func pullValue(l *lua.State, idx int) any {
	switch l.TypeOf(idx) {
	case lua.TypeBoolean:
		return l.ToBoolean(idx)
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		return number(n)
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return s
	case lua.TypeTable:
		return pullTable(l, idx)
	default:
		return nil
	}
}

// pullTable converts a table with keys 1..n to a slice and any other table
// to a map.
func pullTable(l *lua.State, idx int) any {
	l.PushValue(idx)
	defer l.Pop(1)

	obj := make(map[string]any)
	maxIndex, isArray := 0, true
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) == lua.TypeNumber {
			n, _ := l.ToNumber(-2)
			if i := int(n); float64(i) == n && i > 0 {
				maxIndex = max(maxIndex, i)
			} else {
				isArray = false
			}
			obj[fmt.Sprint(number(n))] = pullValue(l, -1)
		} else {
			isArray = false
			key, _ := l.ToString(-2)
			obj[key] = pullValue(l, -1)
		}
		l.Pop(1)
	}

	if !isArray || maxIndex != len(obj) || maxIndex == 0 {
		return obj
	}
	arr := make([]any, maxIndex)
	for i := range arr {
		arr[i] = obj[fmt.Sprint(i+1)]
	}
	return arr
}

func compileJS(name, src string) (*goja.Program, error) {
	prog, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("%w: node %q: %v", ErrInvalidDefinition, name, err)
	}
	return prog, nil
}

// runJS runs prog in a fresh runtime, interrupting it when ctx is done.
func runJS(ctx context.Context, prog *goja.Program, input any) (goja.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	for _, name := range []string{"require", "module", "exports", "process", "global"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, err
		}
	}
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("%w: set input: %v", ErrScript, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	v, err := vm.RunProgram(prog)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	return v, nil
}

// normalize maps exported script values onto the types ops produce:
// integral numbers become int.
func normalize(v any) any {
	switch val := v.(type) {
	case int64:
		return int(val)
	case float64:
		return number(val)
	case []any:
		for i := range val {
			val[i] = normalize(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalize(val[k])
		}
		return val
	default:
		return v
	}
}
