// Package phasemap implements the Phase Mapper: pure, label-driven phase
// selection and parsing of a spec phase's free-form "Recommended Workflow"
// section. Modeled on the teacher's internal/taxonomy package style —
// package-level tables of a closed label set, each with a one-line doc
// comment describing its effect.
package phasemap

import (
	"strings"

	"github.com/sequant-dev/sequant/internal/phase"
)

// uiLabels mark an issue as needing a dedicated test phase before qa.
var uiLabels = []string{"ui", "frontend", "admin", "web", "browser"}

// bugLabels mark an issue as a fix that should skip spec entirely.
var bugLabels = []string{"bug", "fix", "hotfix", "patch"}

// docsLabels mark an issue as documentation-only, also skipping spec.
var docsLabels = []string{"docs", "documentation", "readme"}

// complexLabels mark an issue as warranting the quality loop.
var complexLabels = []string{"complex", "refactor", "breaking", "major"}

// securityLabels mark an issue as needing a security-review phase inserted
// after spec.
var securityLabels = []string{"security", "auth", "authentication", "permissions", "admin"}

func matchesAny(labels []string, set []string) bool {
	for _, l := range labels {
		low := strings.ToLower(l)
		for _, s := range set {
			if strings.Contains(low, s) {
				return true
			}
		}
	}
	return false
}

// IsBugFix reports whether labels match the closed bug-fix label set.
func IsBugFix(labels []string) bool { return matchesAny(labels, bugLabels) }

// IsDocsOnly reports whether labels match the closed docs label set.
func IsDocsOnly(labels []string) bool { return matchesAny(labels, docsLabels) }

// NeedsUITest reports whether labels match the closed UI label set.
func NeedsUITest(labels []string) bool { return matchesAny(labels, uiLabels) }

// NeedsSecurityReview reports whether labels match the closed security label
// set.
func NeedsSecurityReview(labels []string) bool { return matchesAny(labels, securityLabels) }

// IsComplex reports whether labels match the closed complexity label set.
func IsComplex(labels []string) bool { return matchesAny(labels, complexLabels) }

// ApplyUIRule inserts a Test phase immediately before the first QA phase in
// phases, if not already present, when labels warrant it. It returns a new
// slice; phases is left unmodified.
func ApplyUIRule(phases []phase.Phase, labels []string) []phase.Phase {
	if !NeedsUITest(labels) || contains(phases, phase.Test) {
		return phases
	}
	out := make([]phase.Phase, 0, len(phases)+1)
	inserted := false
	for _, p := range phases {
		if p == phase.QA && !inserted {
			out = append(out, phase.Test)
			inserted = true
		}
		out = append(out, p)
	}
	if !inserted {
		out = append(out, phase.Test)
	}
	return out
}

// InsertSecurityReview inserts SecurityReview immediately after Spec, if not
// already present, when labels warrant it.
func InsertSecurityReview(phases []phase.Phase, labels []string) []phase.Phase {
	if !NeedsSecurityReview(labels) || contains(phases, phase.SecurityReview) {
		return phases
	}
	return insertAfter(phases, phase.Spec, phase.SecurityReview)
}

// InsertTestgen inserts Testgen immediately after Spec, if not already
// present. Called unconditionally when config.Testgen is requested
// (spec.md §4.5).
func InsertTestgen(phases []phase.Phase) []phase.Phase {
	if contains(phases, phase.Testgen) {
		return phases
	}
	return insertAfter(phases, phase.Spec, phase.Testgen)
}

func insertAfter(phases []phase.Phase, after, insert phase.Phase) []phase.Phase {
	out := make([]phase.Phase, 0, len(phases)+1)
	found := false
	for _, p := range phases {
		out = append(out, p)
		if p == after && !found {
			out = append(out, insert)
			found = true
		}
	}
	if !found {
		// after wasn't present (e.g. spec skipped for a bug fix); prepend.
		out = append([]phase.Phase{insert}, out...)
	}
	return out
}

func contains(phases []phase.Phase, target phase.Phase) bool {
	for _, p := range phases {
		if p == target {
			return true
		}
	}
	return false
}

// BugFixPhases is the fixed pipeline for a bug/fix labeled issue: planning
// is skipped entirely.
var BugFixPhases = []phase.Phase{phase.Exec, phase.QA}

// separators accepted by parseRecommendedWorkflow, tried in order.
var workflowSeparators = []string{"→", "->", ","}

// ParseRecommendedWorkflow parses a `**Phases:** a → b → c` style line from
// a spec phase's output, validating every token against the closed Phase
// set. It requires at least one valid token to succeed.
func ParseRecommendedWorkflow(phasesLine string) ([]phase.Phase, error) {
	line := strings.TrimSpace(phasesLine)
	if line == "" {
		return nil, ErrEmptyWorkflow
	}
	var tokens []string
	for _, sep := range workflowSeparators {
		if strings.Contains(line, sep) {
			tokens = strings.Split(line, sep)
			break
		}
	}
	if tokens == nil {
		tokens = []string{line}
	}
	var out []phase.Phase
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		p, err := phase.ParsePhase(tok)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoValidPhases
	}
	return out, nil
}

// QualityLoopFromWorkflow parses an optional `**Quality Loop:**
// enabled|disabled` line, defaulting to false when absent or unrecognized.
func QualityLoopFromWorkflow(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), "enabled")
}
