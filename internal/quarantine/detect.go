package quarantine

import "github.com/reillywatson/cipipeline/internal/testreport"

// DetectFlaky compares a first run with a retry run of the failed tests.
// A test is flaky when it failed in the first run and passed in the retry.
// Tests missing from the retry run are not considered flaky.
func DetectFlaky(firstRun, retry []testreport.Outcome) []Flaky {
	retried := make(map[string]testreport.Outcome, len(retry))
	for _, o := range retry {
		retried[o.ID] = o
	}

	var flaky []Flaky
	for _, first := range firstRun {
		if !first.Failed() {
			continue
		}
		again, ok := retried[first.ID]
		if !ok || again.FinalStatus != testreport.StatusPassed {
			continue
		}
		flaky = append(flaky, Flaky{ID: first.ID, File: first.File, Error: first.Error})
	}
	return flaky
}

// DetectFlakyFromAttempts finds flaky tests within a single run that used
// in-run retries: the first attempt failed and the final attempt passed.
func DetectFlakyFromAttempts(outcomes []testreport.Outcome) []Flaky {
	var flaky []Flaky
	for _, o := range outcomes {
		if o.Attempts > 1 && o.FirstStatus == testreport.StatusFailed && o.FinalStatus == testreport.StatusPassed {
			flaky = append(flaky, Flaky{ID: o.ID, File: o.File, Error: o.Error})
		}
	}
	return flaky
}

// DetectFlakyWithRetry combines both signals for a build that re-ran its
// failed tests: tests that recovered through in-run retries of the first
// run, and tests that failed the first run but passed the retry run.
func DetectFlakyWithRetry(firstRun, retry []testreport.Outcome) []Flaky {
	seen := map[string]bool{}
	var flaky []Flaky
	for _, f := range append(DetectFlakyFromAttempts(firstRun), DetectFlaky(firstRun, retry)...) {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		flaky = append(flaky, f)
	}
	return flaky
}

// RemainingFailures returns the first-run failures that a retry run did not
// clear. A retried test contributes its retry outcome; a test that was not
// retried keeps its first-run outcome.
func RemainingFailures(firstRun, retry []testreport.Outcome) []testreport.Outcome {
	retried := make(map[string]testreport.Outcome, len(retry))
	for _, o := range retry {
		retried[o.ID] = o
	}

	var failures []testreport.Outcome
	for _, first := range firstRun {
		if !first.Failed() {
			continue
		}
		again, ok := retried[first.ID]
		switch {
		case !ok:
			failures = append(failures, first)
		case again.Failed():
			failures = append(failures, again)
		}
	}
	return failures
}
