package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reillywatson/cipipeline/internal/e2e"
	"github.com/reillywatson/cipipeline/internal/jenkins"
	"github.com/reillywatson/cipipeline/internal/testreport"
)

// composeOptions select the Compose project shared by the e2e subcommands
type composeOptions struct {
	files         []string
	project       string
	dir           string
	healthTimeout time.Duration
}

func (o *composeOptions) addFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSliceVarP(&o.files, "compose-file", "f", []string{"docker-compose.e2e.yml"}, "Compose files (relative to --dir)")
	fs.StringVarP(&o.project, "project", "p", "", "Compose project name (defaults to COMPOSE_PROJECT_NAME or one derived from JOB_NAME and BUILD_NUMBER)")
	fs.StringVar(&o.dir, "dir", ".", "Directory holding the compose files (relative to the workspace)")
	fs.DurationVar(&o.healthTimeout, "health-timeout", 3*time.Minute, "How long to wait for services to become healthy")
}

func (o *composeOptions) projectName(env jenkins.Env) string {
	if o.project != "" {
		return o.project
	}
	if name := os.Getenv("COMPOSE_PROJECT_NAME"); name != "" {
		return name
	}
	return e2e.ProjectName("e2e", env.JobName, env.BuildNumber)
}

func (o *composeOptions) environment(ctx context.Context, root *rootOptions) (*e2e.Environment, error) {
	runner := newRunner()
	composeCmd, err := e2e.DetectComposeCommand(ctx, runner)
	if err != nil {
		return nil, err
	}
	project := o.projectName(jenkins.Detect())
	env := e2e.NewEnvironment(runner, composeCmd, project, o.files...)
	env.Dir = inWorkspace(root, o.dir)
	env.HealthTimeout = o.healthTimeout
	return env, nil
}

type cleanupOptions struct {
	ports    []string
	attempts int
	backoff  string
	initial  time.Duration
	maxDelay time.Duration
}

func (o *cleanupOptions) addFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSliceVar(&o.ports, "ports", nil, "Host ports the environment publishes, e.g. 3000,5432")
	fs.IntVar(&o.attempts, "attempts", 3, "Cleanup attempts before giving up")
	fs.StringVar(&o.backoff, "backoff", string(e2e.BackoffLinear), "Delay between attempts: fixed, linear or exponential")
	fs.DurationVar(&o.initial, "initial-delay", 2*time.Second, "First delay between attempts")
	fs.DurationVar(&o.maxDelay, "max-delay", 10*time.Second, "Upper bound for the delay between attempts")
}

func (o *cleanupOptions) cleaner() (*e2e.Cleaner, []int, error) {
	ports, err := parsePorts(o.ports)
	if err != nil {
		return nil, nil, err
	}
	policy := e2e.NewRetryPolicy(e2e.BackoffMode(o.backoff), o.initial, o.maxDelay, o.attempts)
	if err := policy.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return e2e.NewCleaner(newRunner(), policy), ports, nil
}

func newE2ECommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "e2e",
		Short: "Manage the Docker Compose E2E environment and run Playwright against it",
	}
	cmd.AddCommand(
		newE2EUpCommand(root),
		newE2EDownCommand(root),
		newE2ECleanupCommand(root),
		newE2ETestCommand(root),
	)
	return cmd
}

func newE2EUpCommand(root *rootOptions) *cobra.Command {
	var (
		compose composeOptions
		cleanup cleanupOptions
		build   bool
		noWait  bool
	)
	cmd := &cobra.Command{
		Use:   "up [SERVICE...]",
		Short: "Free the E2E ports and start the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := compose.environment(ctx, root)
			if err != nil {
				return err
			}
			cleaner, ports, err := cleanup.cleaner()
			if err != nil {
				return err
			}
			if err := cleaner.Cleanup(ctx, env.Project, ports); err != nil {
				return err
			}
			return env.Up(ctx, e2e.UpOptions{Build: build, Services: args, Wait: !noWait})
		},
	}
	compose.addFlags(cmd)
	cleanup.addFlags(cmd)
	cmd.Flags().BoolVar(&build, "build", true, "Build images before starting")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Do not wait for services to become healthy")
	return cmd
}

func newE2EDownCommand(root *rootOptions) *cobra.Command {
	var (
		compose  composeOptions
		logsPath string
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Collect service logs and tear the environment down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := compose.environment(cmd.Context(), root)
			if err != nil {
				return err
			}
			return env.Down(cmd.Context(), e2e.DownOptions{LogsPath: inWorkspace(root, logsPath)})
		},
	}
	compose.addFlags(cmd)
	cmd.Flags().StringVar(&logsPath, "logs", "reports/e2e/compose.log", "Write service logs here before teardown (empty to skip)")
	return cmd
}

func newE2ECleanupCommand(root *rootOptions) *cobra.Command {
	var (
		project string
		cleanup cleanupOptions
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove leftover containers and networks until the E2E ports are free",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cleaner, ports, err := cleanup.cleaner()
			if err != nil {
				return err
			}
			return cleaner.Cleanup(cmd.Context(), project, ports)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "Compose project whose leftovers should also be removed")
	cleanup.addFlags(cmd)
	return cmd
}

type e2eTestOptions struct {
	compose     composeOptions
	cleanup     cleanupOptions
	quarantine  quarantineOptions
	withEnv     bool
	logsPath    string
	testDir     string
	baseURL     string
	project     string
	workers     int
	retries     int
	retryFailed bool
	report      string
	retryReport string
}

func newE2ETestCommand(root *rootOptions) *cobra.Command {
	opts := &e2eTestOptions{}
	cmd := &cobra.Command{
		Use:   "test [-- PLAYWRIGHT ARGS...]",
		Short: "Run Playwright, retry failures and apply the flaky-test quarantine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runE2ETests(cmd, root, opts, args)
		},
	}
	opts.compose.addFlags(cmd)
	opts.cleanup.addFlags(cmd)
	opts.quarantine.addFlags(cmd)
	fs := cmd.Flags()
	fs.BoolVar(&opts.withEnv, "with-env", false, "Start the environment before the tests and tear it down afterwards")
	fs.StringVar(&opts.logsPath, "logs", "reports/e2e/compose.log", "With --with-env, write service logs here before teardown")
	fs.StringVar(&opts.testDir, "test-dir", ".", "Directory holding playwright.config (relative to the workspace)")
	fs.StringVar(&opts.baseURL, "base-url", "", "Application URL passed to the tests as BASE_URL (defaults to $BASE_URL)")
	fs.StringVar(&opts.project, "browser-project", "", "Playwright project to run")
	fs.IntVar(&opts.workers, "workers", 0, "Playwright workers (0 keeps the config value)")
	fs.IntVar(&opts.retries, "retries", 0, "In-run Playwright retries (0 keeps the config value)")
	fs.BoolVar(&opts.retryFailed, "retry-failed", true, "Re-run failed tests once to tell flaky tests from real failures")
	fs.StringVar(&opts.report, "report", "reports/e2e/results.json", "Playwright JSON report (relative to the workspace)")
	fs.StringVar(&opts.retryReport, "retry-report", "reports/e2e/results-retry.json", "Report of the retry run (relative to the workspace)")
	return cmd
}

func runE2ETests(cmd *cobra.Command, root *rootOptions, opts *e2eTestOptions, extraArgs []string) error {
	ctx := cmd.Context()

	if opts.withEnv {
		env, err := opts.compose.environment(ctx, root)
		if err != nil {
			return err
		}
		cleaner, ports, err := opts.cleanup.cleaner()
		if err != nil {
			return err
		}
		if err := cleaner.Cleanup(ctx, env.Project, ports); err != nil {
			return err
		}
		defer func() {
			// Teardown runs even when the build was aborted
			downErr := env.Down(context.WithoutCancel(ctx), e2e.DownOptions{LogsPath: inWorkspace(root, opts.logsPath)})
			if downErr != nil {
				logrus.WithError(downErr).Warn("E2E teardown failed")
			}
		}()
		if err := env.Up(ctx, e2e.UpOptions{Build: true, Wait: true}); err != nil {
			return err
		}
	}

	baseURL := opts.baseURL
	if baseURL == "" {
		baseURL = os.Getenv("BASE_URL")
	}
	runner := &e2e.PlaywrightRunner{
		Runner:  newRunner(),
		Dir:     inWorkspace(root, opts.testDir),
		BaseURL: baseURL,
		Project: opts.project,
		Workers: opts.workers,
		Retries: opts.retries,
	}
	first, err := runner.Run(ctx, inWorkspace(root, opts.report), extraArgs...)
	if err != nil {
		return err
	}

	var retry *testreport.Report
	if opts.retryFailed && len(first.Failures()) > 0 {
		logrus.WithField("failed", len(first.Failures())).Info("Retrying failed E2E tests")
		r, err := runner.RetryFailed(ctx, inWorkspace(root, opts.retryReport))
		if err != nil {
			return err
		}
		retry = &r
	}
	return applyQuarantine(ctx, root, &opts.quarantine, first, retry, cmd.OutOrStdout())
}
