package phasemap

import (
	"bufio"
	"strings"

	"github.com/sequant-dev/sequant/internal/phase"
)

// ExtractRecommendedWorkflow scans a spec phase's accumulated output for a
// "## Recommended Workflow" section containing a `**Phases:** a -> b -> c`
// line and an optional `**Quality Loop:** enabled|disabled` line.
//
// On parse failure (no section, or no valid phase tokens) it returns
// ErrNoRecommendedWorkflow / ErrNoValidPhases so callers can fall back to
// label-based detection per spec.md §4.5.
func ExtractRecommendedWorkflow(specOutput string) (phases []phase.Phase, qualityLoop bool, err error) {
	scanner := bufio.NewScanner(strings.NewReader(specOutput))
	inSection := false
	var phasesLine, loopLine string
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			inSection = strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(trimmed, "##")), "Recommended Workflow")
			continue
		}
		if !inSection {
			continue
		}
		low := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(low, "**phases:**"):
			phasesLine = strings.TrimSpace(trimmed[len("**phases:**"):])
		case strings.HasPrefix(low, "**quality loop:**"):
			loopLine = strings.TrimSpace(trimmed[len("**quality loop:**"):])
		}
	}
	if phasesLine == "" {
		return nil, false, ErrNoRecommendedWorkflow
	}
	phases, err = ParseRecommendedWorkflow(phasesLine)
	if err != nil {
		return nil, false, err
	}
	return phases, QualityLoopFromWorkflow(loopLine), nil
}
