package executor

import (
	"regexp"
	"strings"

	"github.com/sequant-dev/sequant/internal/phase"
)

// verdictPatterns matches every marker form spec.md §4.4 lists, generalized
// from the teacher's extractCouncilVerdict
// ("## Council Verdict: PASS|WARN|FAIL") to the four verdict-marker forms
// used here. The captured group is matched case-insensitively against the
// four verdict values below, with hyphens normalized to underscores.
var verdictPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^###\s*Verdict:\s*([A-Za-z_-]+)\s*$`),
	regexp.MustCompile(`(?im)^\*\*Verdict:\*\*\s*\*\*([A-Za-z_-]+)\*\*\s*$`),
	regexp.MustCompile(`(?im)^\*\*Verdict:\*\*\s*([A-Za-z_-]+)\s*$`),
	regexp.MustCompile(`(?im)^Verdict:\s*([A-Za-z_-]+)\s*$`),
}

var validVerdicts = map[phase.Verdict]bool{
	phase.VerdictReadyForMerge:     true,
	phase.VerdictACMetNotAPlus:     true,
	phase.VerdictACNotMet:          true,
	phase.VerdictNeedsVerification: true,
}

// ExtractVerdict searches text for the first matching verdict marker, in
// the pattern order above (the order spec.md §4.4 lists the forms), and
// returns the verdict it names. Hyphens in the captured token are
// normalized to underscores before matching the closed verdict set.
func ExtractVerdict(text string) (phase.Verdict, bool) {
	for _, re := range verdictPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			token := strings.ToUpper(strings.ReplaceAll(m[1], "-", "_"))
			v := phase.Verdict(token)
			if validVerdicts[v] {
				return v, true
			}
		}
	}
	return "", false
}

// ApplyVerdictPolicy implements spec.md §4.4's rewrite rule: a result
// claiming success from the agent but yielding a verdict other than
// READY_FOR_MERGE or NEEDS_VERIFICATION is rewritten to a failure with a
// "QA verdict: <X>" error message. Only applies to the qa phase; other
// phases pass success through unchanged.
func ApplyVerdictPolicy(p phase.Phase, success bool, text string) (stillSuccess bool, verdict *phase.Verdict, errMsg string) {
	if p != phase.QA {
		return success, nil, ""
	}
	v, found := ExtractVerdict(text)
	if !found {
		return success, nil, ""
	}
	if success && !v.IsFavorable() {
		return false, &v, "QA verdict: " + string(v)
	}
	return success, &v, ""
}
