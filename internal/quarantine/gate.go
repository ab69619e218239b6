package quarantine

import (
	"errors"
	"fmt"

	"github.com/reillywatson/cipipeline/internal/testreport"
)

// ErrBlockingFailures is returned by GateResult.Err when non-quarantined tests failed
var ErrBlockingFailures = errors.New("blocking test failures")

// GateResult splits failed tests into those that fail the build and those
// that are quarantined and only reported
type GateResult struct {
	Blocking    []testreport.Outcome
	Quarantined []testreport.Outcome
}

// Passed reports whether no blocking failures remain
func (g GateResult) Passed() bool {
	return len(g.Blocking) == 0
}

// Err returns nil when the gate passes
func (g GateResult) Err() error {
	if g.Passed() {
		return nil
	}
	return fmt.Errorf("%w: %d test(s) failed (%d quarantined failure(s) ignored)", ErrBlockingFailures, len(g.Blocking), len(g.Quarantined))
}

// Gate classifies failures against the quarantine database
func Gate(failures []testreport.Outcome, t *Tracker) GateResult {
	var res GateResult
	for _, f := range failures {
		if !f.Failed() {
			continue
		}
		if t.IsQuarantined(f.ID) {
			res.Quarantined = append(res.Quarantined, f)
		} else {
			res.Blocking = append(res.Blocking, f)
		}
	}
	return res
}
