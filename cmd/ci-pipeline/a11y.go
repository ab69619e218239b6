package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/reillywatson/cipipeline/internal/a11y"
)

func newA11yCommand(root *rootOptions) *cobra.Command {
	var (
		failOn    string
		tags      []string
		outputDir string
		dir       string
	)
	cmd := &cobra.Command{
		Use:   "a11y URL...",
		Short: "Run axe-core against URLs and gate on violation impact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			impact, err := a11y.ParseImpact(failOn)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			scanner := &a11y.Scanner{
				Runner:    newRunner(),
				Dir:       inWorkspace(root, dir),
				OutputDir: inWorkspace(root, outputDir),
				Tags:      tags,
			}
			res, err := scanner.Scan(cmd.Context(), args)
			if err != nil {
				return err
			}
			printViolations(cmd.OutOrStdout(), res)
			return a11y.Gate(res, impact)
		},
	}
	cmd.Flags().StringVar(&failOn, "fail-on", string(a11y.ImpactSerious), "Fail on violations at or above this impact")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Restrict axe rules to these tags, e.g. wcag2a,wcag2aa")
	cmd.Flags().StringVar(&outputDir, "output-dir", "reports/a11y", "Results directory (relative to the workspace)")
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to run npx in (relative to the workspace)")
	return cmd
}

func printViolations(out io.Writer, res *a11y.Result) {
	if len(res.Violations) == 0 {
		fmt.Fprintln(out, "No accessibility violations found")
		return
	}
	fmt.Fprintf(out, "\nAccessibility violations (%d):\n", len(res.Violations))
	for _, v := range res.Violations {
		fmt.Fprintf(out, "  [%s] %s: %s (%d node(s)) %s\n", v.Impact, v.Rule, v.Help, v.Nodes, v.URL)
	}
}
