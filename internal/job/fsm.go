package job

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition indicates a status change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// validTransitions defines the job state machine:
//
//	pending -> running -> {completed, failed}
//
// Terminal states have no outgoing transitions. A pending job may be
// terminated directly (cancelled before its runner ever started).
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// ValidateTransition checks whether moving from one status to another is
// allowed. Same-status "transitions" are valid no-ops.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether a status accepts no further transitions.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}
