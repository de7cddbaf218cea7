package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/steps"
)

var validateCmd = &cobra.Command{
	Use:   "validate [manifest]",
	Short: "Check a manifest and every stage it hands off to",
	Long: `Validate loads a manifest, follows its next: chain, and reports every
problem found: unknown kinds, duplicate names, misplaced children, and
handoff cycles. Without an argument the configured boot.manifest is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := viper.GetString("boot.manifest")
	if len(args) > 0 {
		path = args[0]
	}

	reg := steps.NewRegistry()
	manifests, err := loadChain(path, true)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	problems := 0
	for _, m := range manifests {
		if err := m.Validate(reg.Known); err != nil {
			verrs, ok := err.(manifest.ValidationErrors)
			if !ok {
				return err
			}
			problems += len(verrs)
			fmt.Fprintf(out, "✗ %s (%s)\n", m.Path(), m.StageName())
			for _, v := range verrs {
				fmt.Fprintf(out, "    %s\n", v.Error())
			}
			continue
		}
		fmt.Fprintf(out, "✓ %s (%s): %d steps\n", m.Path(), m.StageName(), len(m.Steps))
	}

	if problems > 0 {
		return fmt.Errorf("%d manifest problem(s) found", problems)
	}
	return nil
}

// loadChain loads path and, when follow is set, every stage reached through
// next:. A stage reached twice is a handoff cycle.
func loadChain(path string, follow bool) ([]*manifest.Manifest, error) {
	var chain []*manifest.Manifest
	seen := make(map[string]bool)

	for path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		if seen[abs] {
			return nil, fmt.Errorf("handoff cycle: %s is reached twice", path)
		}
		seen[abs] = true

		m, err := manifest.Load(abs)
		if err != nil {
			return nil, err
		}
		chain = append(chain, m)

		if !follow {
			break
		}
		path = m.NextPath()
	}
	return chain, nil
}
