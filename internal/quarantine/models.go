// Package quarantine tracks flaky tests across builds and decides which
// failures are allowed to stop blocking CI.
package quarantine

import "time"

const (
	// DefaultThreshold is the number of flaky occurrences after which a
	// test is quarantined.
	DefaultThreshold = 3
	// HistoryLimit bounds the per-test occurrence history.
	HistoryLimit = 10
	// maxErrorLength bounds stored error messages.
	maxErrorLength = 500

	databaseVersion = 1
)

// Occurrence is one detection of a test behaving flakily
type Occurrence struct {
	Timestamp time.Time `json:"timestamp"`
	Build     string    `json:"build,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Record is the persisted state for a single test
type Record struct {
	Occurrences   int          `json:"occurrences"`
	FirstSeen     time.Time    `json:"first_seen"`
	LastSeen      time.Time    `json:"last_seen"`
	History       []Occurrence `json:"history"`
	Quarantined   bool         `json:"quarantined"`
	QuarantinedAt *time.Time   `json:"quarantined_at,omitempty"`
}

// Database is the quarantine file contents
type Database struct {
	Version   int                `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	Tests     map[string]*Record `json:"tests"`
}

// NewDatabase returns an empty database
func NewDatabase() *Database {
	return &Database{Version: databaseVersion, Tests: map[string]*Record{}}
}

// Flaky is a test that failed and then passed on retry
type Flaky struct {
	ID    string
	File  string
	Error string
}

// BuildInfo describes the build in which flakiness was observed
type BuildInfo struct {
	Label  string
	Branch string
}

// Metric is a summarized view of one record, used for reporting
type Metric struct {
	TestName    string
	Occurrences int
	FirstSeen   time.Time
	LastSeen    time.Time
	Quarantined bool
}

// Stats summarizes flakiness across all tracked tests
type Stats struct {
	TotalTests       int
	QuarantinedTests int
	TotalOccurrences int
	Mean             float64
	Median           float64
	Max              int
	Min              int
}
