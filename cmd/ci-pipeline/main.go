package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// errUsage marks errors caused by bad flags
var errUsage = errors.New("usage error")

type rootOptions struct {
	logLevel  string
	workspace string
	envFile   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ci-pipeline",
		Short:         "CI stages for the web application pipelines: tests, E2E environments, quarantine, scans",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}
			logrus.SetLevel(level)

			// Local runs keep GITHUB_TOKEN and friends in a dotenv file; values
			// already set by Jenkins take precedence
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil {
					return fmt.Errorf("%w: failed to load %s: %v", errUsage, opts.envFile, err)
				}
				logrus.WithField("file", opts.envFile).Debug("Loaded environment file")
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	defaultWorkspace := os.Getenv("WORKSPACE")
	if defaultWorkspace == "" {
		defaultWorkspace = "."
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.workspace, "workspace", defaultWorkspace, "Workspace directory (defaults to $WORKSPACE)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Load variables from a dotenv file without overriding the environment")

	cmd.AddCommand(
		newRunCommand(opts),
		newFlakyCommand(opts),
		newE2ECommand(opts),
		newStatusCommand(opts),
		newScanCommand(opts),
		newSBOMCommand(opts),
		newA11yCommand(opts),
	)
	return cmd
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("ci-pipeline failed")
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
