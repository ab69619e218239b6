package quarantine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/reillywatson/cipipeline/internal/testreport"
)

func outcome(id string, first, final testreport.Status, attempts int) testreport.Outcome {
	return testreport.Outcome{ID: id, FirstStatus: first, FinalStatus: final, Attempts: attempts, Error: id + " failed"}
}

func fixedTracker(db *Database, threshold int, now time.Time) *Tracker {
	t := NewTracker(db, threshold)
	t.now = func() time.Time { return now }
	return t
}

func TestDetectFlaky(t *testing.T) {
	first := []testreport.Outcome{
		outcome("a", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("b", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("c", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("d", testreport.StatusPassed, testreport.StatusPassed, 1),
	}
	retry := []testreport.Outcome{
		outcome("a", testreport.StatusPassed, testreport.StatusPassed, 1),
		outcome("b", testreport.StatusFailed, testreport.StatusFailed, 1),
		// c not retried
		outcome("d", testreport.StatusPassed, testreport.StatusPassed, 1),
	}

	got := DetectFlaky(first, retry)
	want := []Flaky{{ID: "a", Error: "a failed"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected flaky tests (-want +got):\n%s", diff)
	}
}

func TestDetectFlakyFromAttempts(t *testing.T) {
	outcomes := []testreport.Outcome{
		outcome("retried-pass", testreport.StatusFailed, testreport.StatusPassed, 2),
		outcome("retried-fail", testreport.StatusFailed, testreport.StatusFailed, 3),
		outcome("clean", testreport.StatusPassed, testreport.StatusPassed, 1),
	}
	got := DetectFlakyFromAttempts(outcomes)
	if len(got) != 1 || got[0].ID != "retried-pass" {
		t.Errorf("expected only retried-pass, got %+v", got)
	}
}

func TestTracker_QuarantinesAtThreshold(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	tr := fixedTracker(NewDatabase(), 3, now)
	build := BuildInfo{Label: "app/main#1", Branch: "main"}

	for i := 1; i <= 2; i++ {
		if q := tr.Record([]Flaky{{ID: "login"}}, build); len(q) != 0 {
			t.Fatalf("occurrence %d: expected no quarantine, got %v", i, q)
		}
	}
	if tr.IsQuarantined("login") {
		t.Fatal("expected login not quarantined after 2 occurrences")
	}

	q := tr.Record([]Flaky{{ID: "login"}}, build)
	if diff := cmp.Diff([]string{"login"}, q); diff != "" {
		t.Errorf("unexpected newly quarantined (-want +got):\n%s", diff)
	}
	if !tr.IsQuarantined("login") {
		t.Fatal("expected login quarantined after 3 occurrences")
	}

	// A fourth occurrence does not report the test as newly quarantined again
	if q := tr.Record([]Flaky{{ID: "login"}}, build); len(q) != 0 {
		t.Errorf("expected no newly quarantined tests, got %v", q)
	}

	rec := tr.Database().Tests["login"]
	if rec.Occurrences != 4 {
		t.Errorf("expected 4 occurrences, got %d", rec.Occurrences)
	}
	if rec.QuarantinedAt == nil || !rec.QuarantinedAt.Equal(now) {
		t.Errorf("unexpected quarantined_at %v", rec.QuarantinedAt)
	}
}

func TestTracker_QuarantineIsSticky(t *testing.T) {
	db := NewDatabase()
	db.Tests["legacy"] = &Record{Occurrences: 3, Quarantined: true}

	// Raising the threshold never un-quarantines a test
	tr := NewTracker(db, 10)
	tr.Record([]Flaky{{ID: "legacy"}}, BuildInfo{})
	if !tr.IsQuarantined("legacy") {
		t.Fatal("expected legacy to stay quarantined")
	}
}

func TestTracker_HistoryBounded(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(NewDatabase(), 0)
	for i := 0; i < 15; i++ {
		ts := start.Add(time.Duration(i) * time.Hour)
		tr.now = func() time.Time { return ts }
		tr.Record([]Flaky{{ID: "feed", Error: strings.Repeat("x", 800)}}, BuildInfo{Label: "b"})
	}

	rec := tr.Database().Tests["feed"]
	if len(rec.History) != HistoryLimit {
		t.Fatalf("expected history of %d, got %d", HistoryLimit, len(rec.History))
	}
	if !rec.History[0].Timestamp.Equal(start.Add(5 * time.Hour)) {
		t.Errorf("expected oldest entries dropped, first is %v", rec.History[0].Timestamp)
	}
	if !rec.FirstSeen.Equal(start) || !rec.LastSeen.Equal(start.Add(14*time.Hour)) {
		t.Errorf("unexpected first/last seen %v / %v", rec.FirstSeen, rec.LastSeen)
	}
	if n := len([]rune(rec.History[0].Error)); n != maxErrorLength {
		t.Errorf("expected error truncated to %d, got %d", maxErrorLength, n)
	}
}

func TestStore_RoundTripAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "flaky-tests.json")

	db, err := Load(path)
	if err != nil {
		t.Fatalf("expected missing file to load empty db, got %v", err)
	}
	if len(db.Tests) != 0 {
		t.Fatalf("expected empty db, got %d tests", len(db.Tests))
	}

	tr := fixedTracker(db, 1, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	tr.Record([]Flaky{{ID: "x"}}, BuildInfo{Label: "job#9", Branch: "main"})
	if err := Save(path, db); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(db, loaded); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestStore_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"tests":{}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestGate(t *testing.T) {
	db := NewDatabase()
	db.Tests["quarantined"] = &Record{Occurrences: 5, Quarantined: true}
	db.Tests["tracked"] = &Record{Occurrences: 1}
	tr := NewTracker(db, 3)

	failures := []testreport.Outcome{
		outcome("quarantined", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("tracked", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("passed", testreport.StatusPassed, testreport.StatusPassed, 1),
	}
	res := Gate(failures, tr)
	if res.Passed() {
		t.Fatal("expected gate to fail")
	}
	if len(res.Blocking) != 1 || res.Blocking[0].ID != "tracked" {
		t.Errorf("unexpected blocking %+v", res.Blocking)
	}
	if len(res.Quarantined) != 1 || res.Quarantined[0].ID != "quarantined" {
		t.Errorf("unexpected quarantined %+v", res.Quarantined)
	}
	if !errors.Is(res.Err(), ErrBlockingFailures) {
		t.Errorf("expected ErrBlockingFailures, got %v", res.Err())
	}

	onlyQuarantined := Gate(failures[:1], tr)
	if !onlyQuarantined.Passed() || onlyQuarantined.Err() != nil {
		t.Errorf("expected gate to pass with only quarantined failures")
	}
}

func TestSummarizeAndStats(t *testing.T) {
	db := NewDatabase()
	db.Tests["b"] = &Record{Occurrences: 2}
	db.Tests["a"] = &Record{Occurrences: 2}
	db.Tests["c"] = &Record{Occurrences: 5, Quarantined: true}
	db.Tests["d"] = &Record{Occurrences: 1}

	metrics := Summarize(db)
	var names []string
	for _, m := range metrics {
		names = append(names, m.TestName)
	}
	if diff := cmp.Diff([]string{"c", "a", "b", "d"}, names); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}

	stats := ComputeStats(metrics)
	want := Stats{TotalTests: 4, QuarantinedTests: 1, TotalOccurrences: 10, Mean: 2.5, Median: 2, Max: 5, Min: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("unexpected stats (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(Stats{}, ComputeStats(nil)); diff != "" {
		t.Errorf("expected zero stats for no metrics:\n%s", diff)
	}
}

func TestMarkdownReport(t *testing.T) {
	db := NewDatabase()
	tr := fixedTracker(db, 1, time.Now())
	flaky := []Flaky{{ID: "chat › sends | receives"}}
	newly := tr.Record(flaky, BuildInfo{})
	gate := GateResult{Quarantined: []testreport.Outcome{{ID: "old"}}}

	report := MarkdownReport(flaky, newly, gate, tr)
	for _, want := range []string{
		"| `chat › sends \\| receives` | 1 | yes |",
		"**Newly quarantined** (flaky 1+ times)",
		"- `old`",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}

	empty := MarkdownReport(nil, nil, GateResult{}, tr)
	if !strings.Contains(empty, "No flaky tests detected") {
		t.Errorf("unexpected empty report %q", empty)
	}
}

func TestRemainingFailures(t *testing.T) {
	first := []testreport.Outcome{
		outcome("fixed-by-retry", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("still-broken", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("not-retried", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("green", testreport.StatusPassed, testreport.StatusPassed, 1),
	}
	retry := []testreport.Outcome{
		outcome("fixed-by-retry", testreport.StatusPassed, testreport.StatusPassed, 1),
		{ID: "still-broken", FirstStatus: testreport.StatusFailed, FinalStatus: testreport.StatusFailed, Attempts: 1, Error: "retry error"},
	}

	got := RemainingFailures(first, retry)
	var ids, errs []string
	for _, o := range got {
		ids = append(ids, o.ID)
		errs = append(errs, o.Error)
	}
	if diff := cmp.Diff([]string{"still-broken", "not-retried"}, ids); diff != "" {
		t.Errorf("unexpected failures (-want +got):\n%s", diff)
	}
	if errs[0] != "retry error" {
		t.Errorf("expected retry outcome to win, got %q", errs[0])
	}
}

func TestDetectFlakyWithRetry(t *testing.T) {
	first := []testreport.Outcome{
		outcome("inrun-flaky", testreport.StatusFailed, testreport.StatusPassed, 2),
		outcome("hard", testreport.StatusFailed, testreport.StatusFailed, 2),
		outcome("recovers-on-rerun", testreport.StatusFailed, testreport.StatusFailed, 1),
	}
	retry := []testreport.Outcome{
		outcome("hard", testreport.StatusFailed, testreport.StatusFailed, 1),
		outcome("recovers-on-rerun", testreport.StatusPassed, testreport.StatusPassed, 1),
	}

	var ids []string
	for _, f := range DetectFlakyWithRetry(first, retry) {
		ids = append(ids, f.ID)
	}
	if diff := cmp.Diff([]string{"inrun-flaky", "recovers-on-rerun"}, ids); diff != "" {
		t.Errorf("unexpected flaky tests (-want +got):\n%s", diff)
	}

	// A test that also shows up in the retry run is only counted once
	retry = append(retry, outcome("inrun-flaky", testreport.StatusPassed, testreport.StatusPassed, 1))
	if got := DetectFlakyWithRetry(first, retry); len(got) != 2 {
		t.Errorf("Expected 2 flaky tests, got %+v", got)
	}
}

func TestTracker_QuarantinedList(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	tracker := fixedTracker(NewDatabase(), 2, now)
	build := BuildInfo{Label: "app#1", Branch: "main"}

	tracker.Record([]Flaky{{ID: "z-test"}, {ID: "a-test"}, {ID: "once"}}, build)
	if got := tracker.Quarantined(); len(got) != 0 {
		t.Errorf("Expected nothing quarantined after one build, got %v", got)
	}
	tracker.Record([]Flaky{{ID: "z-test"}, {ID: "a-test"}}, build)
	if diff := cmp.Diff([]string{"a-test", "z-test"}, tracker.Quarantined()); diff != "" {
		t.Errorf("unexpected quarantined tests (-want +got):\n%s", diff)
	}
}
