package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reillywatson/cipipeline/internal/github"
	"github.com/reillywatson/cipipeline/internal/jenkins"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	var (
		statusContext string
		state         string
		description   string
		gh            githubOptions
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Set a GitHub commit status for the current build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := github.State(state)
			if !s.Valid() {
				return fmt.Errorf("%w: invalid state %q", errUsage, state)
			}
			reporter, err := gh.reporter(jenkins.Detect())
			if err != nil {
				return err
			}
			reporter.Report(cmd.Context(), statusContext, s, description)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusContext, "context", "", "Status context, e.g. ci/jenkins/unit-tests")
	cmd.Flags().StringVar(&state, "state", "", "pending, success, failure or error")
	cmd.Flags().StringVar(&description, "description", "", "Short description")
	_ = cmd.MarkFlagRequired("context")
	_ = cmd.MarkFlagRequired("state")
	gh.addFlags(cmd.Flags())
	return cmd
}
