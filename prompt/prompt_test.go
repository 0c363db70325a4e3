package prompt_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/prompt"
)

func TestVariables(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		want []string
	}{
		{"none", "hello", nil},
		{"single", "hello {name}", []string{"name"}},
		{"adjacent", "{a}{b}", []string{"a", "b"}},
		{"repeated", "{x} and {x}", []string{"x"}},
		{"escaped", "{{literal}} {real}", []string{"real"}},
		{"spaces", "{ topic }", []string{"topic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prompt.Variables(tt.tmpl))
		})
	}
}

func TestTemplate(t *testing.T) {
	ctx := context.Background()

	tmpl, err := prompt.NewTemplate("joke", "Tell me a {adjective} joke about {topic}.")
	require.NoError(t, err)
	assert.Equal(t, "joke", tmpl.Name())
	assert.Equal(t, []string{"adjective", "topic"}, tmpl.InputVariables())

	out, err := tmpl.Invoke(ctx, map[string]any{"adjective": "short", "topic": "cats"})
	require.NoError(t, err)
	assert.Equal(t, "Tell me a short joke about cats.", out)

	out, err = tmpl.Invoke(ctx, map[string]string{"adjective": "long", "topic": "dogs"})
	require.NoError(t, err)
	assert.Equal(t, "Tell me a long joke about dogs.", out)

	_, err = tmpl.Invoke(ctx, "cats")
	require.Error(t, err)
	assert.ErrorIs(t, err, runnable.ErrInvalidInput)
	assert.ErrorIs(t, err, runnable.InvocationFailed)

	_, err = tmpl.Invoke(ctx, map[string]any{"adjective": "short"})
	assert.ErrorIs(t, err, runnable.InvocationFailed)
}

func TestTemplateSingleVariable(t *testing.T) {
	tmpl, err := prompt.NewTemplate("q", "Question: {question}")
	require.NoError(t, err)

	out, err := tmpl.Invoke(context.Background(), "why?")
	require.NoError(t, err)
	assert.Equal(t, "Question: why?", out)
}

func TestNewTemplateInvalid(t *testing.T) {
	_, err := prompt.NewTemplate("bad", "unclosed {brace")
	assert.Error(t, err)
}

func TestChatTemplate(t *testing.T) {
	chat := prompt.NewChatTemplate("chat",
		prompt.System("You are a {role}."),
		prompt.Placeholder("history"),
		prompt.Human("{input}"),
	)
	assert.Equal(t, "chat", chat.Name())

	history := []llms.ChatMessage{
		llms.HumanChatMessage{Content: "hi"},
		llms.AIChatMessage{Content: "hello"},
	}
	out, err := chat.Invoke(context.Background(), map[string]any{
		"role":    "pirate",
		"history": history,
		"input":   "where is the treasure?",
	})
	require.NoError(t, err)

	msgs, ok := out.([]llms.ChatMessage)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].GetType())
	assert.Equal(t, "You are a pirate.", msgs[0].GetContent())
	assert.Equal(t, "hi", msgs[1].GetContent())
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].GetType())
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[3].GetType())
	assert.Equal(t, "where is the treasure?", msgs[3].GetContent())
}

func TestChatTemplateMissingHistory(t *testing.T) {
	chat := prompt.NewChatTemplate("chat",
		prompt.Placeholder("history"),
		prompt.Human("{input}"),
		prompt.AI("ok"),
	)

	out, err := chat.Invoke(context.Background(), "ping")
	require.NoError(t, err)

	msgs := out.([]llms.ChatMessage)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ping", msgs[0].GetContent())
	assert.Equal(t, "ok", msgs[1].GetContent())
}

func TestChatTemplateBadHistory(t *testing.T) {
	chat := prompt.NewChatTemplate("chat", prompt.Placeholder("history"))

	_, err := chat.Invoke(context.Background(), map[string]any{"history": 42})
	assert.ErrorIs(t, err, runnable.InvocationFailed)
}

func TestFewShot(t *testing.T) {
	examples := []map[string]string{
		{"word": "happy", "antonym": "sad"},
		{"word": "tall", "antonym": "short"},
	}
	fs, err := prompt.NewFewShot("antonyms",
		"Word: {word}\nAntonym: {antonym}",
		examples,
		"Give the antonym of every word.",
		"Word: {input}\nAntonym:",
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"input"}, fs.InputVariables())

	out, err := fs.Invoke(context.Background(), "big")
	require.NoError(t, err)
	assert.Equal(t,
		"Give the antonym of every word.\n\n"+
			"Word: happy\nAntonym: sad\n\n"+
			"Word: tall\nAntonym: short\n\n"+
			"Word: big\nAntonym:",
		out)
}

func TestFewShotRequiresExamples(t *testing.T) {
	_, err := prompt.NewFewShot("empty", "{x}", nil, "", "{input}")
	assert.Error(t, err)
}

func TestStringOutput(t *testing.T) {
	parser := prompt.StringOutput("text")

	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"string", "plain", "plain"},
		{"message", llms.AIChatMessage{Content: "reply"}, "reply"},
		{"messages", []llms.ChatMessage{
			llms.HumanChatMessage{Content: "q"},
			llms.AIChatMessage{Content: "last"},
		}, "last"},
		{"response", &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "choice"}}}, "choice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := parser.Invoke(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	_, err := parser.Invoke(context.Background(), 42)
	assert.ErrorIs(t, err, runnable.ErrInvalidInput)
}

func TestJSONOutput(t *testing.T) {
	parser := prompt.JSONOutput("json")

	out, err := parser.Invoke(context.Background(), llms.AIChatMessage{
		Content: "```json\n{\"answer\": \"yes\", \"score\": 3}\n```",
	})
	require.NoError(t, err)

	obj, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "yes", obj["answer"])
	assert.EqualValues(t, 3, obj["score"])

	_, err = parser.Invoke(context.Background(), "not json")
	assert.Error(t, err)
}

func TestPromptInSequence(t *testing.T) {
	tmpl, err := prompt.NewTemplate("greet", "Hello, {name}!")
	require.NoError(t, err)

	seq, err := runnable.NewSequence("greeting", []runnable.Node{tmpl, prompt.StringOutput("text")})
	require.NoError(t, err)

	out, err := seq.Invoke(context.Background(), map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada!", out)
}
