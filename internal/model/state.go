// Package model holds the in-memory registry of pull requests tracked by
// the merge queue, along with the transient scheduling fields that ride
// alongside each one.
package model

// State is the tagged variant a PullRequest occupies in the merge-queue
// state machine. It is persisted at the Store boundary as its String().
type State int

const (
	StatePending State = iota
	StateApproved
	StateTesting
	StateSuccess
	StateFailure
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApproved:
		return "approved"
	case StateTesting:
		return "testing"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseState recovers a State from its persisted string form. Unknown
// strings map to StatePending so a corrupt or stale row never blocks
// rehydration.
func ParseState(s string) State {
	switch s {
	case "approved":
		return StateApproved
	case "testing":
		return StateTesting
	case "success":
		return StateSuccess
	case "failure":
		return StateFailure
	case "error":
		return StateError
	default:
		return StatePending
	}
}

// Mergeable is the host's tri-state "can this be merged cleanly" hint.
type Mergeable int

const (
	MergeableUnknown Mergeable = iota
	MergeableYes
	MergeableNo
)

func (m Mergeable) String() string {
	switch m {
	case MergeableYes:
		return "yes"
	case MergeableNo:
		return "no"
	default:
		return "unknown"
	}
}

// Verdict is a CI provider's report for one builder run.
type Verdict int

const (
	VerdictInProgress Verdict = iota
	VerdictSuccess
	VerdictFailure
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictFailure:
		return "failure"
	default:
		return "in_progress"
	}
}

// ParseVerdict recovers a Verdict from its persisted string form.
func ParseVerdict(s string) Verdict {
	switch s {
	case "success":
		return VerdictSuccess
	case "failure":
		return VerdictFailure
	default:
		return VerdictInProgress
	}
}
