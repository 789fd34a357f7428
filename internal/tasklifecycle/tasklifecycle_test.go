package tasklifecycle

import (
	"testing"

	"github.com/localtask/core/internal/coreerr"
)

func TestAssertTransition_LegalEdges(t *testing.T) {
	legal := [][2]Status{
		{StatusOpen, StatusAccepted},
		{StatusOpen, StatusCancelled},
		{StatusOpen, StatusExpired},
		{StatusAccepted, StatusProofSubmitted},
		{StatusAccepted, StatusDisputed},
		{StatusAccepted, StatusCancelled},
		{StatusProofSubmitted, StatusCompleted},
		{StatusProofSubmitted, StatusDisputed},
		{StatusDisputed, StatusCompleted},
	}
	for _, e := range legal {
		if err := AssertTransition(e[0], e[1]); err != nil {
			t.Errorf("%s -> %s should be legal: %v", e[0], e[1], err)
		}
	}
}

func TestAssertTransition_IllegalEdges(t *testing.T) {
	illegal := [][2]Status{
		{StatusOpen, StatusCompleted},
		{StatusOpen, StatusProofSubmitted},
		{StatusAccepted, StatusCompleted}, // must go through proof submission
		{StatusProofSubmitted, StatusCancelled},
		{StatusDisputed, StatusCancelled},
	}
	for _, e := range illegal {
		err := AssertTransition(e[0], e[1])
		if !coreerr.Is(err, coreerr.IllegalTransition) {
			t.Errorf("%s -> %s should be ILLEGAL_TRANSITION, got %v", e[0], e[1], err)
		}
	}
}

func TestAssertTransition_TerminalStatesAreImmutable(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusCancelled, StatusExpired} {
		for _, to := range []Status{StatusOpen, StatusAccepted, StatusCompleted, StatusDisputed} {
			err := AssertTransition(from, to)
			if !coreerr.Is(err, coreerr.IllegalTransition) {
				t.Errorf("%s -> %s from terminal state should fail, got %v", from, to, err)
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusExpired} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusOpen, StatusAccepted, StatusProofSubmitted, StatusDisputed} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
