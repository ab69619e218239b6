// Package testreport reads test results produced by Playwright and by
// JUnit-compatible reporters (vitest, jest).
package testreport

import "sort"

// Status is the normalized result of a single test attempt
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome is the result of one test across all of its attempts in a run
type Outcome struct {
	ID          string `json:"id"`
	File        string `json:"file,omitempty"`
	FirstStatus Status `json:"first_status"`
	FinalStatus Status `json:"final_status"`
	Attempts    int    `json:"attempts"`
	Error       string `json:"error,omitempty"`
}

// Failed reports whether the test ended failed
func (o Outcome) Failed() bool {
	return o.FinalStatus == StatusFailed
}

// Report is the parsed result set of one test run
type Report struct {
	Outcomes []Outcome
}

// Failures returns outcomes whose final status is failed
func (r Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			failed = append(failed, o)
		}
	}
	return failed
}

// ByID indexes outcomes by test identifier
func (r Report) ByID() map[string]Outcome {
	m := make(map[string]Outcome, len(r.Outcomes))
	for _, o := range r.Outcomes {
		m[o.ID] = o
	}
	return m
}

// Counts returns passed, failed and skipped totals
func (r Report) Counts() (passed, failed, skipped int) {
	for _, o := range r.Outcomes {
		switch o.FinalStatus {
		case StatusPassed:
			passed++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return passed, failed, skipped
}

func sortOutcomes(outcomes []Outcome) {
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].ID < outcomes[j].ID
	})
}

// idSeparator joins path segments of a test identifier
const idSeparator = " › "
