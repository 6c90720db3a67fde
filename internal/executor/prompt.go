// Package executor implements the Phase Executor: invoking the agent for
// one (issue, phase), parsing its verdict, and applying the cold-start/MCP
// fallback retry policy. Grounded on the teacher's
// cmd/ao/rpi_phased_phase_runner.go and the retry/backoff shape in
// cmd/ao/rpi_phased.go (retryContext, attempt counters, the gate-fail-and-
// retry loop around extractCouncilVerdict).
package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sequant-dev/sequant/internal/phase"
)

// promptTemplates maps each phase to its {issue}-templated instruction.
// Every phase in the closed set has a registered template; a phase absent
// from this map is a load-time configuration error (SPEC_FULL.md §9 Open
// Question 5), surfaced via PromptFor returning phase.ErrNoPromptTemplate.
var promptTemplates = map[phase.Phase]string{
	phase.Spec:           "Analyze issue #{issue} and produce an implementation plan, recommended phase workflow, and acceptance criteria.",
	phase.SecurityReview: "Perform a security review of the approach proposed for issue #{issue} before implementation proceeds.",
	phase.Testgen:        "Generate the test cases that will validate issue #{issue}'s acceptance criteria before implementation.",
	phase.Exec:           "Implement the changes required to resolve issue #{issue}.",
	phase.Test:           "Run and, where needed, extend the test suite covering issue #{issue}'s changes.",
	phase.Verify:         "Verify that the changes made for issue #{issue} satisfy its acceptance criteria end-to-end.",
	phase.QA:             "Perform a final quality assessment of issue #{issue} and report a verdict.",
	phase.Loop:           "Analyze the failures from the previous iteration on issue #{issue} and propose corrections before the next attempt.",
	phase.Merger:         "Prepare issue #{issue}'s change for merge: resolve conflicts and confirm the branch is mergeable.",
}

// PromptFor returns the substituted prompt for p against iid, or
// phase.ErrNoPromptTemplate if p has no registered template.
func PromptFor(p phase.Phase, iid int) (string, error) {
	tmpl, ok := promptTemplates[p]
	if !ok {
		return "", fmt.Errorf("executor: phase %q: %w", p, phase.ErrNoPromptTemplate)
	}
	return strings.ReplaceAll(tmpl, "{issue}", strconv.Itoa(iid)), nil
}
