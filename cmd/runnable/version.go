package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Example: `  runnable version
  runnable version --output json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := map[string]string{
			"version":   version,
			"commit":    commit,
			"buildDate": buildDate,
			"goVersion": goVersion,
		}
		w := cmd.OutOrStdout()
		if output != textFormat {
			return printResult(w, output, info)
		}

		fmt.Fprintf(w, "runnable version %s\n", version)
		if version != "dev" {
			fmt.Fprintf(w, "  commit:     %s\n", commit)
			fmt.Fprintf(w, "  built:      %s\n", buildDate)
			fmt.Fprintf(w, "  go version: %s\n", goVersion)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
