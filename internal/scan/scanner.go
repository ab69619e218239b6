// Package scan wraps Trivy for container vulnerability scanning and SBOM generation.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/reillywatson/cipipeline/internal/shell"
)

// ErrThresholdExceeded is returned by Gate when findings at or above the
// configured severity exist
var ErrThresholdExceeded = errors.New("vulnerability threshold exceeded")

// ScannerInterface defines the scan operations used by the pipeline
type ScannerInterface interface {
	Scan(ctx context.Context, image string) (*Result, error)
}

// Scanner runs trivy image scans
type Scanner struct {
	Runner        shell.Runner
	Severities    []string
	IgnoreUnfixed bool
	OutputDir     string
	Log           *logrus.Entry
}

// NewScanner creates a scanner writing reports to outputDir
func NewScanner(runner shell.Runner, outputDir string, severities []string) *Scanner {
	if len(severities) == 0 {
		severities = []string{string(SeverityHigh), string(SeverityCritical)}
	}
	return &Scanner{
		Runner:     runner,
		Severities: severities,
		OutputDir:  outputDir,
		Log:        logrus.WithField("component", "trivy"),
	}
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func reportName(prefix, image, ext string) string {
	return prefix + "-" + strings.Trim(unsafeFileChars.ReplaceAllString(image, "_"), "_") + ext
}

// Scan runs trivy against image and summarizes the JSON report
func (s *Scanner) Scan(ctx context.Context, image string) (*Result, error) {
	if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	reportPath := filepath.Join(s.OutputDir, reportName("trivy", image, ".json"))

	args := []string{"image", "--quiet", "--format", "json", "--severity", strings.Join(s.Severities, ","), "--output", reportPath}
	if s.IgnoreUnfixed {
		args = append(args, "--ignore-unfixed")
	}
	args = append(args, image)

	s.Log.WithField("image", image).Info("Scanning image")
	if _, err := s.Runner.Run(ctx, shell.Command{Name: "trivy", Args: args}); err != nil {
		return nil, fmt.Errorf("trivy scan of %s failed: %w", image, err)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read trivy report: %w", err)
	}
	result, err := ParseReport(data)
	if err != nil {
		return nil, err
	}
	result.Image = image
	result.ReportPath = reportPath
	return result, nil
}

// ParseReport summarizes a trivy JSON report
func ParseReport(data []byte) (*Result, error) {
	var report trivyReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode trivy report: %w", err)
	}

	result := &Result{Image: report.ArtifactName, Counts: map[Severity]int{}}
	for _, r := range report.Results {
		for _, v := range r.Vulnerabilities {
			v.Severity = ParseSeverity(string(v.Severity))
			v.Target = r.Target
			result.Vulnerabilities = append(result.Vulnerabilities, v)
			result.Counts[v.Severity]++
		}
	}

	sort.SliceStable(result.Vulnerabilities, func(i, j int) bool {
		a, b := result.Vulnerabilities[i], result.Vulnerabilities[j]
		if a.Severity != b.Severity {
			return severityRank[a.Severity] > severityRank[b.Severity]
		}
		return a.ID < b.ID
	})
	return result, nil
}

// Gate fails when the result has findings at or above failOn
func Gate(result *Result, failOn Severity) error {
	if n := result.CountAtLeast(failOn); n > 0 {
		return fmt.Errorf("%w: %d finding(s) at %s or above in %s", ErrThresholdExceeded, n, failOn, result.Image)
	}
	return nil
}
