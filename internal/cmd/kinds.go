package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/stagehand/internal/steps"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the step kinds a manifest can use",
	Args:  cobra.NoArgs,
	RunE:  runKinds,
}

func init() {
	rootCmd.AddCommand(kindsCmd)
}

func runKinds(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, k := range steps.NewRegistry().Kinds() {
		fmt.Fprintf(out, "  %-12s %s\n", k.Name, k.Description)
	}
	return nil
}
