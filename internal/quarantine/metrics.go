package quarantine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
)

// Summarize turns the database into metrics sorted by occurrences (descending),
// then by test name
func Summarize(db *Database) []Metric {
	var results []Metric
	for id, rec := range db.Tests {
		results = append(results, Metric{
			TestName:    id,
			Occurrences: rec.Occurrences,
			FirstSeen:   rec.FirstSeen,
			LastSeen:    rec.LastSeen,
			Quarantined: rec.Quarantined,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Occurrences != results[j].Occurrences {
			return results[i].Occurrences > results[j].Occurrences
		}
		return results[i].TestName < results[j].TestName
	})
	return results
}

// ComputeStats calculates summary statistics over metrics
func ComputeStats(metrics []Metric) Stats {
	var s Stats
	if len(metrics) == 0 {
		return s
	}

	values := make(stats.Float64Data, 0, len(metrics))
	for _, m := range metrics {
		s.TotalOccurrences += m.Occurrences
		if m.Quarantined {
			s.QuarantinedTests++
		}
		values = append(values, float64(m.Occurrences))
	}
	s.TotalTests = len(metrics)

	// The input is non-empty, which is the only error condition below
	s.Mean, _ = stats.Mean(values)
	s.Median, _ = stats.Median(values)
	maxVal, _ := stats.Max(values)
	minVal, _ := stats.Min(values)
	s.Max = int(maxVal)
	s.Min = int(minVal)
	return s
}

// MarkdownReport renders a PR comment describing this build's flaky tests,
// newly quarantined tests and quarantined failures that were ignored
func MarkdownReport(flaky []Flaky, newlyQuarantined []string, gate GateResult, t *Tracker) string {
	var b strings.Builder
	b.WriteString("### Flaky test report\n\n")

	if len(flaky) == 0 && len(gate.Quarantined) == 0 {
		b.WriteString("No flaky tests detected in this build.\n")
		return b.String()
	}

	if len(flaky) > 0 {
		b.WriteString("| Test | Occurrences | Quarantined |\n")
		b.WriteString("|---|---|---|\n")
		for _, f := range flaky {
			occurrences, quarantined := 0, false
			if rec, ok := t.db.Tests[f.ID]; ok {
				occurrences, quarantined = rec.Occurrences, rec.Quarantined
			}
			mark := ""
			if quarantined {
				mark = "yes"
			}
			fmt.Fprintf(&b, "| `%s` | %d | %s |\n", escapePipes(f.ID), occurrences, mark)
		}
		b.WriteString("\n")
	}

	if len(newlyQuarantined) > 0 {
		fmt.Fprintf(&b, "**Newly quarantined** (flaky %d+ times):\n\n", t.threshold)
		for _, id := range newlyQuarantined {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
		b.WriteString("\n")
	}

	if len(gate.Quarantined) > 0 {
		b.WriteString("**Failures ignored because the test is quarantined:**\n\n")
		for _, o := range gate.Quarantined {
			fmt.Fprintf(&b, "- `%s`\n", o.ID)
		}
	}
	return b.String()
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
