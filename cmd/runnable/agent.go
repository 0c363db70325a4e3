package main

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/runnable/agent"
	"github.com/agentstation/runnable/llm"
)

var agentMaxIterations int

var agentCmd = &cobra.Command{
	Use:   "agent <question>",
	Short: "Answer a question with a tool-using agent",
	Long: `The agent can read the current time and search Wikipedia. It loops until
the model gives a final answer or --max-iterations is reached.`,
	Example: `  runnable agent "What time is it, and who founded the Go language?"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, err := llm.Open(current.cfg.Model)
		if err != nil {
			return err
		}
		box, err := agent.NewToolbox(agent.CurrentTime(nil), agent.Wikipedia(userAgent))
		if err != nil {
			return err
		}
		exec, err := agent.NewExecutor("agent", model, box,
			agent.WithMaxIterations(agentMaxIterations),
			agent.WithLogger(current.logger),
		)
		if err != nil {
			return err
		}

		answer, err := exec.Invoke(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), output, answer)
	},
}

func init() {
	agentCmd.Flags().IntVar(&agentMaxIterations, "max-iterations", 10, "Maximum number of model calls")
	rootCmd.AddCommand(agentCmd)
}
