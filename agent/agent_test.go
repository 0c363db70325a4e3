package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/agent"
	"github.com/agentstation/runnable/internal/testutil"
)

func fixedClock() time.Time {
	return time.Date(2026, 10, 18, 15, 4, 0, 0, time.UTC)
}

func TestToolboxCall(t *testing.T) {
	echo := agent.Func("echo", "Repeats its input.", func(_ context.Context, input string) (string, error) {
		return "echo: " + input, nil
	})
	box, err := agent.NewToolbox(agent.CurrentTime(fixedClock), echo)
	require.NoError(t, err)
	assert.Equal(t, []string{"Current Time", "echo"}, box.Names())

	ctx := context.Background()

	out, err := box.Call(ctx, "Current Time", nil)
	require.NoError(t, err)
	assert.Equal(t, "03:04 PM", out)

	out, err = box.Call(ctx, "echo", map[string]any{"input": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)

	out, err = box.Call(ctx, "echo", map[string]any{"b": 2, "a": "x"})
	require.NoError(t, err)
	assert.Equal(t, `echo: {"a":"x","b":2}`, out)

	_, err = box.Call(ctx, "missing", nil)
	assert.ErrorIs(t, err, agent.ErrUnknownTool)
}

func TestToolboxDuplicate(t *testing.T) {
	_, err := agent.NewToolbox(agent.CurrentTime(nil), agent.CurrentTime(nil))
	assert.ErrorIs(t, err, agent.ErrDuplicateTool)
}

func TestToolboxDescribe(t *testing.T) {
	box, err := agent.NewToolbox(agent.CurrentTime(nil), agent.Wikipedia("runnable-test"))
	require.NoError(t, err)

	desc := box.Describe()
	assert.Contains(t, desc, "Current Time: Useful for when you need to know the current time.")
	assert.Contains(t, desc, "Wikipedia: A wrapper around Wikipedia.")
	assert.Len(t, strings.Split(strings.TrimSpace(desc), "\n"), 2)
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		action  string
		input   map[string]any
		wantErr bool
	}{
		{
			name:   "plain",
			reply:  `{"action": "Wikipedia", "action_input": "Go language"}`,
			action: "Wikipedia",
			input:  map[string]any{"input": "Go language"},
		},
		{
			name:   "fenced with thought",
			reply:  "Thought: I should check the time.\n```json\n{\"action\": \"Current Time\", \"action_input\": {}}\n```",
			action: "Current Time",
			input:  map[string]any{},
		},
		{
			name:   "object input",
			reply:  `{"action": "lookup", "action_input": {"q": "x"}}`,
			action: "lookup",
			input:  map[string]any{"q": "x"},
		},
		{name: "no json", reply: "I don't know", wantErr: true},
		{name: "no action", reply: `{"action_input": "x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, err := agent.ParseAction(tt.reply)
			if tt.wantErr {
				assert.ErrorIs(t, err, agent.ErrNoAction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, act.Name)
			assert.Equal(t, tt.input, act.Input)
		})
	}
}

func TestExecutorReachesFinalAnswer(t *testing.T) {
	model := testutil.NewFakeModel(
		`{"action": "Current Time", "action_input": ""}`,
		`{"action": "Final Answer", "action_input": "It is 03:04 PM."}`,
	)
	box, err := agent.NewToolbox(agent.CurrentTime(fixedClock))
	require.NoError(t, err)

	logger := testutil.NewMockLogger()
	exec, err := agent.NewExecutor("clock-agent", model, box, agent.WithLogger(logger))
	require.NoError(t, err)

	out, err := exec.Invoke(context.Background(), "What time is it?")
	require.NoError(t, err)
	assert.Equal(t, "It is 03:04 PM.", out)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, calls[0][0].Role)
	assert.Contains(t, model.Prompt(0), `Valid "action" values: "Final Answer" or "Current Time"`)
	assert.Contains(t, model.Prompt(0), `{"action": "Final Answer", "action_input": "Final response to human"}`)
	assert.Contains(t, model.Prompt(1), "Observation: 03:04 PM")
	assert.True(t, logger.HasEntry("info", "agent finished"))
}

func TestExecutorRecoversFromBadReplies(t *testing.T) {
	model := testutil.NewFakeModel(
		"let me think",
		`{"action": "Search", "action_input": "x"}`,
		`{"action": "Final Answer", "action_input": "done"}`,
	)
	box, err := agent.NewToolbox(agent.CurrentTime(fixedClock))
	require.NoError(t, err)
	exec, err := agent.NewExecutor("agent", model, box)
	require.NoError(t, err)

	out, err := exec.Invoke(context.Background(), map[string]any{
		"input":   "hello",
		"history": []llms.ChatMessage{llms.HumanChatMessage{Content: "earlier"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	assert.Contains(t, model.Prompt(0), "earlier")
	assert.Contains(t, model.Prompt(1), "Observation: Invalid format")
	assert.Contains(t, model.Prompt(2), `Observation: Error: agent: unknown tool: "Search"`)
}

func TestExecutorMaxIterations(t *testing.T) {
	model := testutil.NewFakeModel(`{"action": "Current Time", "action_input": ""}`)
	box, err := agent.NewToolbox(agent.CurrentTime(fixedClock))
	require.NoError(t, err)
	exec, err := agent.NewExecutor("looper", model, box, agent.WithMaxIterations(3))
	require.NoError(t, err)

	_, err = exec.Invoke(context.Background(), "loop forever")
	assert.ErrorIs(t, err, agent.ErrMaxIterations)
	assert.ErrorIs(t, err, runnable.InvocationFailed)
	assert.Len(t, model.Calls(), 3)
}

func TestExecutorModelFailure(t *testing.T) {
	errDown := errors.New("model down")
	box, err := agent.NewToolbox()
	require.NoError(t, err)
	exec, err := agent.NewExecutor("agent", testutil.NewFakeModel().Failing(errDown), box)
	require.NoError(t, err)

	_, err = exec.Invoke(context.Background(), "hi")
	assert.ErrorIs(t, err, errDown)
}

func TestExecutorValidation(t *testing.T) {
	box, err := agent.NewToolbox()
	require.NoError(t, err)

	_, err = agent.NewExecutor("agent", nil, box)
	assert.ErrorIs(t, err, runnable.ErrNilNode)

	_, err = agent.NewExecutor("agent", testutil.NewFakeModel(), box, agent.WithMaxIterations(0))
	assert.ErrorIs(t, err, runnable.ErrInvalidAttempts)

	exec, err := agent.NewExecutor("agent", testutil.NewFakeModel(), box)
	require.NoError(t, err)
	_, err = exec.Invoke(context.Background(), 42)
	assert.ErrorIs(t, err, runnable.ErrInvalidInput)
}
