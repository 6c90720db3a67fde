package phase

import "errors"

// Sentinel errors shared across packages that handle phase/config outcomes.
var (
	// ErrUnknownPhase is returned by ParsePhase for any tag outside the
	// closed Phase set. Per SPEC_FULL.md §9 Open Question 5, unknown phases
	// are a configuration error at load time, never a silent skip.
	ErrUnknownPhase = errors.New("phase: unknown phase tag")

	// ErrNoPromptTemplate is returned when a recognized phase has no
	// registered prompt template (internal/executor), which is itself a
	// load-time configuration error for merger/verify in some deployments.
	ErrNoPromptTemplate = errors.New("phase: no prompt template registered")
)
