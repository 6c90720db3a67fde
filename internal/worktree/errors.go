package worktree

import "errors"

var (
	// ErrNotGitRepo is returned when the configured root is not inside a
	// git working tree.
	ErrNotGitRepo = errors.New("worktree: not a git repository")

	// ErrBranchLocked is returned when a branch already has an active
	// worktree elsewhere, violating invariant 3 (one worktree per branch).
	ErrBranchLocked = errors.New("worktree: branch already checked out elsewhere")

	// ErrRebaseConflict names a rebase conflict. The Manager's own flows do
	// not return it: they abort a conflicting rebase and proceed without it
	// (PreSubmit adds a warning) rather than surfacing it as fatal
	// (spec.md §4.3/§7).
	ErrRebaseConflict = errors.New("worktree: rebase conflict")
)
