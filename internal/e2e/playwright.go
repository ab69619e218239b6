package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/reillywatson/cipipeline/internal/shell"
	"github.com/reillywatson/cipipeline/internal/testreport"
)

// PlaywrightRunner runs the Playwright suite against a running environment
type PlaywrightRunner struct {
	Runner  shell.Runner
	Log     *logrus.Entry
	Dir     string
	BaseURL string
	// Project limits the run to one Playwright project (browser)
	Project string
	Workers int
	// Retries is passed as --retries; 0 leaves playwright.config in charge
	Retries int
	Env     []string
}

// Run executes the suite writing a JSON report to reportPath. Test failures
// are not an error: the returned report is the source of truth and callers
// gate on it. An error means the suite could not run or produced no report.
func (p *PlaywrightRunner) Run(ctx context.Context, reportPath string, extraArgs ...string) (testreport.Report, error) {
	args := []string{"playwright", "test", "--reporter=json"}
	if p.Project != "" {
		args = append(args, "--project="+p.Project)
	}
	if p.Workers > 0 {
		args = append(args, "--workers="+strconv.Itoa(p.Workers))
	}
	if p.Retries > 0 {
		args = append(args, "--retries="+strconv.Itoa(p.Retries))
	}
	args = append(args, extraArgs...)

	abs := reportPath
	if !filepath.IsAbs(abs) && p.Dir != "" {
		abs = filepath.Join(p.Dir, reportPath)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return testreport.Report{}, fmt.Errorf("failed to create report directory: %w", err)
	}
	// Stale reports from an earlier run must never be mistaken for this one
	_ = os.Remove(abs)

	env := append([]string{"PLAYWRIGHT_JSON_OUTPUT_NAME=" + abs, "CI=true"}, p.Env...)
	if p.BaseURL != "" {
		env = append(env, "BASE_URL="+p.BaseURL)
	}

	log := p.log().WithField("report", abs)
	log.Info("Running Playwright tests")
	_, runErr := p.Runner.Run(ctx, shell.Command{Name: "npx", Args: args, Dir: p.Dir, Env: env})

	var exitErr *shell.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return testreport.Report{}, fmt.Errorf("failed to run playwright: %w", runErr)
	}

	report, err := testreport.ParsePlaywrightFile(abs)
	if err != nil {
		if runErr != nil {
			return testreport.Report{}, fmt.Errorf("playwright failed without a report: %w", runErr)
		}
		return testreport.Report{}, err
	}

	passed, failed, skipped := report.Counts()
	log.WithFields(logrus.Fields{"passed": passed, "failed": failed, "skipped": skipped}).Info("Playwright run finished")
	return report, nil
}

// RetryFailed re-runs only the tests that failed in the previous run
func (p *PlaywrightRunner) RetryFailed(ctx context.Context, reportPath string) (testreport.Report, error) {
	return p.Run(ctx, reportPath, "--last-failed")
}

func (p *PlaywrightRunner) log() *logrus.Entry {
	if p.Log != nil {
		return p.Log
	}
	return logrus.WithField("component", "playwright")
}
