package github

// State is a GitHub commit status state
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateError   State = "error"
)

// Valid reports whether s is accepted by the statuses API
func (s State) Valid() bool {
	switch s {
	case StatePending, StateSuccess, StateFailure, StateError:
		return true
	}
	return false
}

// Status is a commit status to publish
type Status struct {
	State State
	// Context distinguishes statuses on the same commit, e.g. ci/jenkins/unit-tests
	Context     string
	Description string
	TargetURL   string
}

// Commit identifies the commit a status is attached to
type Commit struct {
	Owner string
	Repo  string
	SHA   string
}

// maxDescriptionLength is the statuses API limit on description length
const maxDescriptionLength = 140
