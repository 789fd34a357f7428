// Package tasklifecycle defines the task's business-lifecycle state
// machine. It owns no storage — the task row itself belongs to the
// external task feed — but the Money State Engine and Proof Gate both
// need the same transition rules, so the rules live here once.
package tasklifecycle

import "github.com/localtask/core/internal/coreerr"

// Status is a task's business-lifecycle state.
type Status string

const (
	StatusOpen            Status = "OPEN"
	StatusAccepted        Status = "ACCEPTED"
	StatusProofSubmitted  Status = "PROOF_SUBMITTED"
	StatusDisputed        Status = "DISPUTED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
)

// IsTerminal reports whether s is a final task status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// transitions enumerates every legal (from, to) edge.
var transitions = map[Status]map[Status]bool{
	StatusOpen: {
		StatusAccepted:  true,
		StatusCancelled: true,
		StatusExpired:   true,
	},
	StatusAccepted: {
		StatusProofSubmitted: true,
		StatusDisputed:       true,
		StatusCancelled:      true,
	},
	StatusProofSubmitted: {
		StatusCompleted: true,
		StatusDisputed:  true,
	},
	StatusDisputed: {
		StatusCompleted: true,
	},
}

// AssertTransition fails with ILLEGAL_TRANSITION unless from -> to is a
// legal edge in the task lifecycle. Callers call this before any write that
// changes a task's status.
func AssertTransition(from, to Status) error {
	if from.IsTerminal() {
		return coreerr.New(coreerr.IllegalTransition,
			"task lifecycle: "+string(from)+" is terminal, cannot move to "+string(to))
	}
	if transitions[from][to] {
		return nil
	}
	return coreerr.New(coreerr.IllegalTransition,
		"task lifecycle: "+string(from)+" -> "+string(to)+" is not a legal transition")
}
