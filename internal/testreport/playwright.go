package testreport

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Playwright JSON reporter output. Only the fields needed to derive
// per-attempt outcomes are decoded.
type playwrightReport struct {
	Suites []playwrightSuite `json:"suites"`
}

type playwrightSuite struct {
	Title  string            `json:"title"`
	File   string            `json:"file"`
	Specs  []playwrightSpec  `json:"specs"`
	Suites []playwrightSuite `json:"suites"`
}

type playwrightSpec struct {
	Title string           `json:"title"`
	File  string           `json:"file"`
	Tests []playwrightTest `json:"tests"`
}

type playwrightTest struct {
	ProjectName string             `json:"projectName"`
	Status      string             `json:"status"`
	Results     []playwrightResult `json:"results"`
}

type playwrightResult struct {
	Retry  int              `json:"retry"`
	Status string           `json:"status"`
	Error  *playwrightError `json:"error,omitempty"`
}

type playwrightError struct {
	Message string `json:"message"`
}

// ParsePlaywrightFile reads a Playwright JSON report from disk
func ParsePlaywrightFile(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to open playwright report: %w", err)
	}
	defer f.Close()
	return ParsePlaywright(f)
}

// ParsePlaywright decodes a Playwright JSON report
func ParsePlaywright(r io.Reader) (Report, error) {
	var raw playwrightReport
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Report{}, fmt.Errorf("failed to decode playwright report: %w", err)
	}

	var outcomes []Outcome
	for _, suite := range raw.Suites {
		outcomes = collectSuite(outcomes, suite, nil)
	}
	sortOutcomes(outcomes)
	return Report{Outcomes: outcomes}, nil
}

func collectSuite(outcomes []Outcome, suite playwrightSuite, parents []string) []Outcome {
	// The top-level suite title is the file name; keep it as the first segment
	path := parents
	if suite.Title != "" {
		path = append(append([]string{}, parents...), suite.Title)
	}

	for _, spec := range suite.Specs {
		for _, test := range spec.Tests {
			outcomes = append(outcomes, playwrightOutcome(path, spec, test))
		}
	}
	for _, child := range suite.Suites {
		outcomes = collectSuite(outcomes, child, path)
	}
	return outcomes
}

func playwrightOutcome(path []string, spec playwrightSpec, test playwrightTest) Outcome {
	segments := append(append([]string{}, path...), spec.Title)
	id := strings.Join(segments, idSeparator)
	if test.ProjectName != "" {
		id += " [" + test.ProjectName + "]"
	}

	o := Outcome{ID: id, File: spec.File, Attempts: len(test.Results)}
	if len(test.Results) == 0 {
		// Tests that never ran (skipped or filtered) have no results
		o.FirstStatus = normalizePlaywrightStatus(test.Status)
		o.FinalStatus = o.FirstStatus
		return o
	}

	first, last := test.Results[0], test.Results[0]
	for _, res := range test.Results {
		if res.Retry < first.Retry {
			first = res
		}
		if res.Retry >= last.Retry {
			last = res
		}
	}
	o.FirstStatus = normalizePlaywrightStatus(first.Status)
	o.FinalStatus = normalizePlaywrightStatus(last.Status)
	for _, res := range test.Results {
		if res.Error != nil && res.Error.Message != "" {
			o.Error = res.Error.Message
			break
		}
	}
	return o
}

// normalizePlaywrightStatus maps result statuses (passed, failed, timedOut,
// interrupted, skipped) and test statuses (expected, unexpected, flaky, skipped)
func normalizePlaywrightStatus(s string) Status {
	switch s {
	case "passed", "expected", "flaky":
		return StatusPassed
	case "skipped":
		return StatusSkipped
	default:
		return StatusFailed
	}
}
