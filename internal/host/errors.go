package host

import "errors"

var (
	// ErrIssueNotFound is returned when the host reports no such issue.
	ErrIssueNotFound = errors.New("host: issue not found")

	// ErrPRNotFound is returned by callers that require a PR to exist
	// (FindPRByBranch returning found=false is not itself an error).
	ErrPRNotFound = errors.New("host: pull request not found")
)
