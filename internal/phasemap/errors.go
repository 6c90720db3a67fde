package phasemap

import "errors"

var (
	// ErrEmptyWorkflow is returned when ParseRecommendedWorkflow is given
	// an empty phases line.
	ErrEmptyWorkflow = errors.New("phasemap: empty recommended-workflow line")

	// ErrNoValidPhases is returned when ParseRecommendedWorkflow finds no
	// token that validates against the closed Phase set.
	ErrNoValidPhases = errors.New("phasemap: no valid phase tokens in recommended workflow")

	// ErrNoRecommendedWorkflow is returned when a spec phase's output has
	// no "## Recommended Workflow" section at all.
	ErrNoRecommendedWorkflow = errors.New("phasemap: no recommended workflow section found")
)
