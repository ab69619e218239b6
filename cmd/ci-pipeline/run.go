package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reillywatson/cipipeline/internal/jenkins"
	"github.com/reillywatson/cipipeline/internal/pipeline"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		file   string
		only   []string
		github githubOptions
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the stages declared in a pipeline file in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pipeline.LoadConfig(inWorkspace(root, file))
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			env := jenkins.Detect()
			if github.repo == "" && cfg.GitHub.Owner != "" {
				github.repo = cfg.GitHub.Owner + "/" + cfg.GitHub.Repo
			}
			reporter, err := github.reporter(env)
			if err != nil {
				return err
			}

			p := &pipeline.Pipeline{
				Config:   cfg,
				Runner:   newRunner(),
				Reporter: reporter,
				Log:      logrus.WithFields(logrus.Fields{"project": cfg.Project, "build": env.BuildLabel()}),
				Output:   cmd.OutOrStdout(),
				Only:     only,
			}
			if cfg.Metrics.Pushgateway != "" {
				p.Metrics = pipeline.NewMetrics()
			}

			summary, runErr := p.Run(cmd.Context())
			printSummary(cmd.ErrOrStderr(), summary)

			if p.Metrics != nil {
				if err := p.Metrics.Push(cfg.Metrics.Pushgateway, cfg.Metrics.Job, cfg.Project, env.Branch); err != nil {
					logrus.WithError(err).Warn("Failed to push pipeline metrics")
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "pipeline.yaml", "Pipeline definition (relative to the workspace)")
	cmd.Flags().StringSliceVar(&only, "only", nil, "Run only these stages (others are reported as skipped)")
	github.addFlags(cmd.Flags())
	return cmd
}

func printSummary(out io.Writer, summary pipeline.Summary) {
	fmt.Fprintln(out, "\nStage Summary:")
	fmt.Fprintln(out, "--------------")
	for _, s := range summary.Stages {
		line := fmt.Sprintf("%-20s %-16s", s.Name, s.Result)
		if s.Result != pipeline.ResultSkipped {
			line += fmt.Sprintf(" %8s", s.Duration.Round(100 * time.Millisecond))
			if s.Attempts > 1 {
				line += fmt.Sprintf("  (%d attempts)", s.Attempts)
			}
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "Total: %s\n", summary.Duration.Round(100 * time.Millisecond))
}
