package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/dealmesh"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "dealmesh %s\n", appVersion)
		fmt.Fprintf(out, "  commit:   %s\n", appCommit)
		fmt.Fprintf(out, "  pipeline: %s\n", dealmesh.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
