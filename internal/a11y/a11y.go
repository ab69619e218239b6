// Package a11y runs axe-core accessibility scans against the running
// application and gates on violation impact.
package a11y

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/reillywatson/cipipeline/internal/shell"
)

// Impact is the axe-core severity of a violation
type Impact string

const (
	ImpactMinor    Impact = "minor"
	ImpactModerate Impact = "moderate"
	ImpactSerious  Impact = "serious"
	ImpactCritical Impact = "critical"
)

var impactRank = map[Impact]int{
	ImpactMinor:    1,
	ImpactModerate: 2,
	ImpactSerious:  3,
	ImpactCritical: 4,
}

// ParseImpact validates an impact name
func ParseImpact(s string) (Impact, error) {
	i := Impact(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := impactRank[i]; !ok {
		return "", fmt.Errorf("unknown impact %q (want minor, moderate, serious or critical)", s)
	}
	return i, nil
}

// ErrViolations is returned by Gate when violations at or above the threshold exist
var ErrViolations = errors.New("accessibility violations found")

// Violation is one failed axe rule on one page
type Violation struct {
	URL    string
	Rule   string
	Impact Impact
	Help   string
	Nodes  int
}

// Result summarizes a scan of several pages
type Result struct {
	Violations []Violation
	Counts     map[Impact]int
	ReportPath string
}

type axePage struct {
	URL        string `json:"url"`
	Violations []struct {
		ID     string            `json:"id"`
		Impact Impact            `json:"impact"`
		Help   string            `json:"help"`
		Nodes  []json.RawMessage `json:"nodes"`
	} `json:"violations"`
}

// ParseResults reads the JSON array written by `axe --save`
func ParseResults(data []byte) (*Result, error) {
	var pages []axePage
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("failed to decode axe results: %w", err)
	}

	res := &Result{Counts: map[Impact]int{}}
	for _, page := range pages {
		for _, v := range page.Violations {
			res.Violations = append(res.Violations, Violation{
				URL:    page.URL,
				Rule:   v.ID,
				Impact: v.Impact,
				Help:   v.Help,
				Nodes:  len(v.Nodes),
			})
			res.Counts[v.Impact]++
		}
	}
	sort.SliceStable(res.Violations, func(i, j int) bool {
		return impactRank[res.Violations[i].Impact] > impactRank[res.Violations[j].Impact]
	})
	return res, nil
}

// Gate fails when any violation is at least failOn
func Gate(res *Result, failOn Impact) error {
	n := 0
	for impact, c := range res.Counts {
		if impactRank[impact] >= impactRank[failOn] {
			n += c
		}
	}
	if n > 0 {
		return fmt.Errorf("%w: %d violation(s) at %s impact or above", ErrViolations, n, failOn)
	}
	return nil
}

// Scanner drives the axe-core CLI
type Scanner struct {
	Runner    shell.Runner
	Dir       string
	OutputDir string
	// Tags restricts rules, e.g. wcag2a,wcag2aa
	Tags []string
	Log  *logrus.Entry
}

// Scan runs axe against urls and parses the saved results
func (s *Scanner) Scan(ctx context.Context, urls []string) (*Result, error) {
	if len(urls) == 0 {
		return nil, errors.New("no URLs to scan")
	}
	// npx runs in Dir, so axe must be given a path that does not depend on it
	outputDir, err := filepath.Abs(s.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve report directory: %w", err)
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	out := filepath.Join(outputDir, "axe-results.json")
	_ = os.Remove(out)

	args := []string{"--yes", "@axe-core/cli", strings.Join(urls, ","), "--save", out, "--exit"}
	if len(s.Tags) > 0 {
		args = append(args, "--tags", strings.Join(s.Tags, ","))
	}

	log := s.Log
	if log == nil {
		log = logrus.WithField("component", "axe")
	}
	log.WithField("urls", len(urls)).Info("Running accessibility scan")

	// axe exits non-zero when it finds violations; the saved results decide
	_, runErr := s.Runner.Run(ctx, shell.Command{Name: "npx", Args: args, Dir: s.Dir})
	data, err := os.ReadFile(out)
	if err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("axe scan failed: %w", runErr)
		}
		return nil, fmt.Errorf("failed to read axe results: %w", err)
	}

	res, err := ParseResults(data)
	if err != nil {
		return nil, err
	}
	res.ReportPath = out
	return res, nil
}
