package state

import "errors"

var (
	// ErrInvalidState is returned when the state file exists but fails to
	// parse or fails struct validation. Fatal per spec.md §4.1/§7 — unlike
	// a missing file (which yields an empty state), a malformed file must
	// not be silently discarded.
	ErrInvalidState = errors.New("state: invalid JSON in state file")

	// ErrIssueNotFound is returned by per-issue update helpers when called
	// before InitializeIssue.
	ErrIssueNotFound = errors.New("state: issue not tracked")
)
