package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reillywatson/cipipeline/internal/github"
	"github.com/reillywatson/cipipeline/internal/jenkins"
	"github.com/reillywatson/cipipeline/internal/quarantine"
	"github.com/reillywatson/cipipeline/internal/testreport"
)

type quarantineOptions struct {
	dbPath    string
	threshold int
	comment   bool
	status    string
	github    githubOptions
}

func (o *quarantineOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.dbPath, "db", ".ci/flaky-tests.json", "Quarantine database file (relative to the workspace)")
	cmd.Flags().IntVar(&o.threshold, "threshold", quarantine.DefaultThreshold, "Flaky occurrences before a test is quarantined")
	cmd.Flags().BoolVar(&o.comment, "comment", true, "Comment the flaky test report on pull requests")
	cmd.Flags().StringVar(&o.status, "status-context", "", "GitHub status context to report the gate result under (empty to skip)")
	o.github.addFlags(cmd.Flags())
}

type flakyOptions struct {
	quarantine  quarantineOptions
	report      string
	retryReport string
	format      string
}

func newFlakyCommand(root *rootOptions) *cobra.Command {
	opts := &flakyOptions{}
	cmd := &cobra.Command{
		Use:   "flaky",
		Short: "Detect flaky tests, update the quarantine database and gate on real failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			first, err := readReport(inWorkspace(root, opts.report), opts.format)
			if err != nil {
				return err
			}
			var retry *testreport.Report
			if opts.retryReport != "" {
				r, err := readReport(inWorkspace(root, opts.retryReport), opts.format)
				if err != nil {
					return err
				}
				retry = &r
			}
			return applyQuarantine(cmd.Context(), root, &opts.quarantine, first, retry, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.report, "report", "", "Test report of the first run")
	cmd.Flags().StringVar(&opts.retryReport, "retry-report", "", "Test report of the retry run (omit when the report carries in-run retries)")
	cmd.Flags().StringVar(&opts.format, "format", "playwright", "Report format: playwright or junit")
	_ = cmd.MarkFlagRequired("report")
	opts.quarantine.addFlags(cmd)

	cmd.AddCommand(newFlakyListCommand(root))
	return cmd
}

func newFlakyListCommand(root *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print tracked flaky tests and summary statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := quarantine.Load(inWorkspace(root, dbPath))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printResults(out, quarantine.Summarize(db))
			printQuarantined(out, quarantine.NewTracker(db, 0).Quarantined())
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", ".ci/flaky-tests.json", "Quarantine database file (relative to the workspace)")
	return cmd
}

func readReport(path, format string) (testreport.Report, error) {
	switch format {
	case "playwright":
		return testreport.ParsePlaywrightFile(path)
	case "junit":
		return testreport.ParseJUnitFile(path)
	default:
		return testreport.Report{}, fmt.Errorf("%w: unknown report format %q", errUsage, format)
	}
}

// applyQuarantine records flaky tests found in first (and retry, when the
// failed tests were re-run separately) and gates on the failures left over
func applyQuarantine(ctx context.Context, root *rootOptions, opts *quarantineOptions, first testreport.Report, retry *testreport.Report, out io.Writer) error {
	env := jenkins.Detect()

	var flaky []quarantine.Flaky
	var failures []testreport.Outcome
	if retry != nil {
		flaky = quarantine.DetectFlakyWithRetry(first.Outcomes, retry.Outcomes)
		failures = quarantine.RemainingFailures(first.Outcomes, retry.Outcomes)
	} else {
		flaky = quarantine.DetectFlakyFromAttempts(first.Outcomes)
		failures = first.Failures()
	}

	dbPath := inWorkspace(root, opts.dbPath)
	db, err := quarantine.Load(dbPath)
	if err != nil {
		return err
	}
	tracker := quarantine.NewTracker(db, opts.threshold)
	newly := tracker.Record(flaky, quarantine.BuildInfo{Label: env.BuildLabel(), Branch: env.Branch})
	if err := quarantine.Save(dbPath, db); err != nil {
		return err
	}

	for _, id := range newly {
		logrus.WithField("test", id).Warn("Test quarantined after repeated flakiness")
	}
	gate := quarantine.Gate(failures, tracker)
	logrus.WithFields(logrus.Fields{
		"flaky":       len(flaky),
		"blocking":    len(gate.Blocking),
		"quarantined": len(gate.Quarantined),
	}).Info("Quarantine gate evaluated")

	printGate(out, flaky, gate)

	reporter, err := opts.github.reporter(env)
	if err != nil {
		return err
	}
	if opts.comment && (len(flaky) > 0 || len(gate.Quarantined) > 0) {
		reporter.Comment(ctx, prNumber(env), quarantine.MarkdownReport(flaky, newly, gate, tracker))
	}
	if opts.status != "" {
		state, desc := github.StateSuccess, fmt.Sprintf("%d flaky, %d quarantined failure(s) ignored", len(flaky), len(gate.Quarantined))
		if !gate.Passed() {
			state, desc = github.StateFailure, fmt.Sprintf("%d test(s) failed", len(gate.Blocking))
		}
		reporter.Report(ctx, opts.status, state, desc)
	}
	return gate.Err()
}

func printGate(out io.Writer, flaky []quarantine.Flaky, gate quarantine.GateResult) {
	if len(flaky) > 0 {
		fmt.Fprintf(out, "\nFlaky tests in this build (%d):\n", len(flaky))
		for _, f := range flaky {
			fmt.Fprintf(out, "  ~ %s\n", f.ID)
		}
	}
	if len(gate.Quarantined) > 0 {
		fmt.Fprintf(out, "\nIgnored failures of quarantined tests (%d):\n", len(gate.Quarantined))
		for _, o := range gate.Quarantined {
			fmt.Fprintf(out, "  - %s\n", o.ID)
		}
	}
	if len(gate.Blocking) > 0 {
		fmt.Fprintf(out, "\nFailed tests (%d):\n", len(gate.Blocking))
		for _, o := range gate.Blocking {
			fmt.Fprintf(out, "  x %s\n", o.ID)
			if o.Error != "" {
				fmt.Fprintf(out, "      %s\n", firstLine(o.Error))
			}
		}
	}
}

// printResults outputs the tracked flaky tests in a readable format
func printResults(out io.Writer, results []quarantine.Metric) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No flaky tests found")
		return
	}

	fmt.Fprintln(out, "\nFlaky Tests (sorted by frequency):")
	fmt.Fprintln(out, "==================================")

	for _, result := range results {
		fmt.Fprintf(out, "Test: %s\n", result.TestName)
		fmt.Fprintf(out, "  Times Flaky: %d\n", result.Occurrences)
		if result.Quarantined {
			fmt.Fprintln(out, "  Quarantined: yes")
		}
		if !result.LastSeen.IsZero() {
			fmt.Fprintf(out, "  Last Occurred: %s\n", result.LastSeen.Format("2006-01-02 15:04:05 MST"))
		}
		fmt.Fprintln(out)
	}

	printSummaryStatistics(out, quarantine.ComputeStats(results))
}

// printQuarantined lists the tests whose failures no longer block builds
func printQuarantined(out io.Writer, ids []string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(out, "\nQuarantined tests (%d):\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(out, "  - %s\n", id)
	}
}

// printSummaryStatistics displays summary statistics
func printSummaryStatistics(out io.Writer, stats quarantine.Stats) {
	fmt.Fprintln(out, "Summary Statistics:")
	fmt.Fprintln(out, "------------------")
	fmt.Fprintf(out, "Total Flaky Tests: %d\n", stats.TotalTests)
	fmt.Fprintf(out, "Quarantined Tests: %d\n", stats.QuarantinedTests)
	fmt.Fprintf(out, "Total Flakiness Events: %d\n", stats.TotalOccurrences)
	fmt.Fprintf(out, "Average Flakiness per Test: %.1f\n", stats.Mean)
	fmt.Fprintf(out, "Median Flakiness per Test: %.1f\n", stats.Median)
	fmt.Fprintf(out, "Most Flaky Test: %d occurrences\n", stats.Max)
	fmt.Fprintf(out, "Least Flaky Test: %d occurrences\n", stats.Min)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

