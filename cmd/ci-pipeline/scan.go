package main

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/reillywatson/cipipeline/internal/cache"
	"github.com/reillywatson/cipipeline/internal/jenkins"
	"github.com/reillywatson/cipipeline/internal/scan"
)

func newScanCommand(root *rootOptions) *cobra.Command {
	var (
		severities    []string
		failOn        string
		outputDir     string
		ignoreUnfixed bool
		cacheTTL      time.Duration
		cacheDir      string
	)
	cmd := &cobra.Command{
		Use:   "scan IMAGE",
		Short: "Scan a container image with trivy and gate on severity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold := scan.ParseSeverity(failOn)
			if threshold == scan.SeverityUnknown {
				return fmt.Errorf("%w: invalid --fail-on %q", errUsage, failOn)
			}

			scanner := scan.NewScanner(newRunner(), inWorkspace(root, outputDir), severities)
			scanner.IgnoreUnfixed = ignoreUnfixed

			var s scan.ScannerInterface = scanner
			if cacheTTL > 0 {
				c, err := cache.NewFileCacheWithDir(inWorkspace(root, cacheDir))
				if err != nil {
					logrus.WithError(err).Warn("Scan cache unavailable, scanning without it")
				} else {
					cached := scan.NewCachedScanner(scanner, c, cacheTTL, scanBuildID(jenkins.Detect()))
					defer cached.Close()
					s = cached
				}
			}

			result, err := s.Scan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printScan(cmd.OutOrStdout(), result)
			return scan.Gate(result, threshold)
		},
	}
	cmd.Flags().StringSliceVar(&severities, "severity", []string{"HIGH", "CRITICAL"}, "Severities to report")
	cmd.Flags().StringVar(&failOn, "fail-on", "CRITICAL", "Fail when findings at or above this severity exist")
	cmd.Flags().StringVar(&outputDir, "output-dir", "reports/trivy", "Report directory (relative to the workspace)")
	cmd.Flags().BoolVar(&ignoreUnfixed, "ignore-unfixed", false, "Skip vulnerabilities without a fix")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", time.Hour, "Reuse results for pinned images within this build for this long (0 disables)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", ".ci/cache", "Scan cache directory (relative to the workspace)")
	return cmd
}

// scanBuildID scopes cached scan results to one build. Local runs have no
// build identity and get a fresh one per invocation.
func scanBuildID(env jenkins.Env) string {
	if env.BuildTag != "" {
		return env.BuildTag
	}
	if env.BuildNumber != "" {
		return env.BuildLabel()
	}
	return uuid.NewString()
}

func printScan(out io.Writer, result *scan.Result) {
	fmt.Fprintf(out, "\nVulnerabilities in %s:\n", result.Image)
	for _, sev := range []scan.Severity{scan.SeverityCritical, scan.SeverityHigh, scan.SeverityMedium, scan.SeverityLow, scan.SeverityUnknown} {
		if n := result.Counts[sev]; n > 0 {
			fmt.Fprintf(out, "  %-8s %d\n", sev, n)
		}
	}
	if len(result.Vulnerabilities) == 0 {
		fmt.Fprintln(out, "  none")
	}
	if result.ReportPath != "" {
		fmt.Fprintf(out, "Report: %s\n", result.ReportPath)
	}
}
