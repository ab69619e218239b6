package quarantine

import (
	"sort"
	"time"
)

// Tracker applies flaky detections to a database
type Tracker struct {
	db        *Database
	threshold int
	now       func() time.Time
}

// NewTracker wraps db. A threshold below 1 uses DefaultThreshold.
func NewTracker(db *Database, threshold int) *Tracker {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if db.Tests == nil {
		db.Tests = map[string]*Record{}
	}
	return &Tracker{db: db, threshold: threshold, now: time.Now}
}

// Database returns the underlying database
func (t *Tracker) Database() *Database {
	return t.db
}

// Record registers one occurrence for every flaky test and returns the IDs
// of tests that became quarantined as a result, sorted.
func (t *Tracker) Record(flaky []Flaky, build BuildInfo) []string {
	now := t.now().UTC()
	var newlyQuarantined []string

	for _, f := range flaky {
		rec, ok := t.db.Tests[f.ID]
		if !ok {
			rec = &Record{FirstSeen: now}
			t.db.Tests[f.ID] = rec
		}

		rec.Occurrences++
		rec.LastSeen = now
		rec.History = append(rec.History, Occurrence{
			Timestamp: now,
			Build:     build.Label,
			Branch:    build.Branch,
			Error:     truncate(f.Error, maxErrorLength),
		})
		if len(rec.History) > HistoryLimit {
			rec.History = rec.History[len(rec.History)-HistoryLimit:]
		}

		// Quarantine is sticky: it is only ever switched on
		if !rec.Quarantined && rec.Occurrences >= t.threshold {
			rec.Quarantined = true
			at := now
			rec.QuarantinedAt = &at
			newlyQuarantined = append(newlyQuarantined, f.ID)
		}
	}

	if len(flaky) > 0 {
		t.db.UpdatedAt = now
	}
	sort.Strings(newlyQuarantined)
	return newlyQuarantined
}

// IsQuarantined reports whether id is quarantined
func (t *Tracker) IsQuarantined(id string) bool {
	rec, ok := t.db.Tests[id]
	return ok && rec.Quarantined
}

// Quarantined returns the quarantined test IDs, sorted
func (t *Tracker) Quarantined() []string {
	var ids []string
	for id, rec := range t.db.Tests {
		if rec.Quarantined {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
