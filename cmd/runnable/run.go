package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentstation/runnable/definition"
	"github.com/agentstation/runnable/llm"
)

var (
	runInput  string
	runDryRun bool
)

var runCmd = &cobra.Command{
	Use:   "run <file.yaml>",
	Short: "Build and invoke a YAML definition",
	Example: `  # Invoke with a JSON input
  runnable run pipeline.yaml --input '{"text": "hello"}'

  # Validate without invoking
  runnable run pipeline.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := expandPath(args[0])
		if err != nil {
			return fmt.Errorf("expand path: %w", err)
		}
		path, err = filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("get absolute path: %w", err)
		}

		loader, err := newLoader()
		if err != nil {
			return err
		}
		current.logger.Debug(cmd.Context(), "loading definition", "path", path)
		node, err := loader.LoadFile(path)
		if err != nil {
			return err
		}

		if runDryRun {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "definition %q is valid\n", node.Name())
			return err
		}

		out, err := current.instrument(node).Invoke(cmd.Context(), parseInput(runInput))
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), output, out)
	},
}

// newLoader builds a loader whose llm op uses the configured model.
func newLoader() (*definition.Loader, error) {
	model, err := llm.Open(current.cfg.Model)
	if err != nil {
		return nil, err
	}
	return definition.NewLoader(definition.DefaultRegistry(model),
		definition.WithNodeOptions(current.nodeOptions()...),
		definition.WithLoaderLogger(current.logger),
	), nil
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "Input as JSON, or a plain string")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate the definition without invoking it")
	rootCmd.AddCommand(runCmd)
}
