package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentstation/runnable/definition"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes [op]",
	Short: "List the ops available to lambda nodes",
	Example: `  # List every op
  runnable nodes

  # Show the config schema of one op
  runnable nodes jsonpath`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := definition.DefaultRegistry(nil)
		w := cmd.OutOrStdout()

		if len(args) == 1 {
			b, ok := registry.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", definition.ErrUnknownOp, args[0])
			}
			meta := b.Metadata()
			if output != textFormat {
				return printResult(w, output, meta)
			}
			return printOp(w, meta)
		}

		ops := registry.Ops()
		if output != textFormat {
			return printResult(w, output, ops)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "OP\tCATEGORY\tDESCRIPTION")
		for _, op := range ops {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", op.Op, op.Category, op.Description)
		}
		return tw.Flush()
	},
}

func printOp(w io.Writer, meta definition.OpMetadata) error {
	fmt.Fprintf(w, "Op: %s\n", meta.Op)
	fmt.Fprintf(w, "Category: %s\n", meta.Category)
	fmt.Fprintf(w, "Description: %s\n", meta.Description)

	if len(meta.ConfigSchema) > 0 {
		schema, err := json.MarshalIndent(meta.ConfigSchema, "  ", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nConfiguration:\n  %s\n", schema)
	}

	if len(meta.Examples) > 0 {
		fmt.Fprintln(w, "\nExamples:")
		for i, ex := range meta.Examples {
			fmt.Fprintf(w, "  %d. %s\n", i+1, ex.Name)
			if len(ex.Config) > 0 {
				fmt.Fprintf(w, "     config: %v\n", ex.Config)
			}
			fmt.Fprintf(w, "     input:  %v\n", ex.Input)
			fmt.Fprintf(w, "     output: %v\n", ex.Output)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(nodesCmd)
}
