package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/history"
	"github.com/agentstation/runnable/llm"
	"github.com/agentstation/runnable/prompt"
)

var (
	chatSession string
	chatSystem  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the configured model",
	Long: `Starts a REPL. Replies stream as they are generated and every turn is
kept in the configured history store under the session ID. Type "exit" to quit.`,
	Example: `  # Resume a conversation kept in redis
  RUNNABLE_HISTORY_BACKEND=redis runnable chat --session 3f1c...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		model, err := llm.Open(current.cfg.Model)
		if err != nil {
			return err
		}
		store, closeStore, err := openHistory(ctx, current.cfg.History)
		if err != nil {
			return err
		}
		defer closeStore() //nolint:errcheck // best effort on exit

		if chatSession == "" {
			chatSession = uuid.NewString()
		}

		out := cmd.OutOrStdout()
		node, err := chatNode(model, store, out)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "session %s\n", chatSession)
		return repl(ctx, cmd.InOrStdin(), out, func(line string) error {
			_, err := node.Invoke(ctx, map[string]any{"session_id": chatSession, "input": line})
			fmt.Fprintln(out)
			return err
		})
	},
}

// chatNode streams the reply to out and records each turn in store.
func chatNode(model llms.Model, store history.Store, out io.Writer) (runnable.Node, error) {
	call, err := llm.New("chat.model", model,
		llm.WithTemperature(current.cfg.Model.Temperature),
		llm.WithStreaming(func(_ context.Context, chunk []byte) error {
			_, err := out.Write(chunk)
			return err
		}))
	if err != nil {
		return nil, err
	}

	tmpl := prompt.NewChatTemplate("chat.prompt",
		prompt.System(chatSystem),
		prompt.Placeholder("history"),
		prompt.Human("{input}"),
	)
	seq, err := runnable.NewSequence("chat.turn",
		[]runnable.Node{tmpl, call, prompt.StringOutput("chat.output")},
		current.nodeOptions()...)
	if err != nil {
		return nil, err
	}
	node, err := history.WithHistory("chat", seq, store)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// repl calls handle for every non-empty line until EOF or "exit". Failures
// are reported and the loop continues.
func repl(ctx context.Context, in io.Reader, out io.Writer, handle func(line string) error) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if err := handle(line); err != nil {
			fmt.Fprintf(out, "issue occurred: %v\n", err)
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
	}
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session ID; a new one is generated when empty")
	chatCmd.Flags().StringVar(&chatSystem, "system", "You are a helpful assistant.", "System prompt")
	rootCmd.AddCommand(chatCmd)
}
