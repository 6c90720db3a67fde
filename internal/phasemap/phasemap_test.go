package phasemap

import (
	"testing"

	"github.com/sequant-dev/sequant/internal/phase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelSets(t *testing.T) {
	assert.True(t, IsBugFix([]string{"bug"}))
	assert.True(t, IsBugFix([]string{"Hotfix"}))
	assert.False(t, IsBugFix([]string{"feature"}))

	assert.True(t, NeedsUITest([]string{"frontend"}))
	assert.True(t, NeedsSecurityReview([]string{"auth"}))
	assert.True(t, IsComplex([]string{"breaking-change"}))
	assert.True(t, IsDocsOnly([]string{"README"}))
}

func TestApplyUIRule(t *testing.T) {
	in := []phase.Phase{phase.Spec, phase.Exec, phase.QA}
	out := ApplyUIRule(in, []string{"ui"})
	assert.Equal(t, []phase.Phase{phase.Spec, phase.Exec, phase.Test, phase.QA}, out)

	// Already present: no duplicate.
	out2 := ApplyUIRule(out, []string{"ui"})
	assert.Equal(t, out, out2)

	// Not UI-labeled: unchanged.
	out3 := ApplyUIRule(in, []string{"backend"})
	assert.Equal(t, in, out3)
}

func TestInsertSecurityReview(t *testing.T) {
	in := []phase.Phase{phase.Spec, phase.Exec, phase.QA}
	out := InsertSecurityReview(in, []string{"security"})
	assert.Equal(t, []phase.Phase{phase.Spec, phase.SecurityReview, phase.Exec, phase.QA}, out)
}

func TestInsertTestgen(t *testing.T) {
	in := []phase.Phase{phase.Spec, phase.Exec, phase.QA}
	out := InsertTestgen(in)
	assert.Equal(t, []phase.Phase{phase.Spec, phase.Testgen, phase.Exec, phase.QA}, out)

	// Bug-fix pipeline has no spec; testgen prepends.
	out2 := InsertTestgen(BugFixPhases)
	assert.Equal(t, []phase.Phase{phase.Testgen, phase.Exec, phase.QA}, out2)
}

func TestParseRecommendedWorkflow(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []phase.Phase
	}{
		{"arrow", "spec → exec → qa", []phase.Phase{phase.Spec, phase.Exec, phase.QA}},
		{"ascii-arrow", "spec -> exec -> qa", []phase.Phase{phase.Spec, phase.Exec, phase.QA}},
		{"comma", "spec, exec, qa", []phase.Phase{phase.Spec, phase.Exec, phase.QA}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRecommendedWorkflow(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRecommendedWorkflowInvalid(t *testing.T) {
	_, err := ParseRecommendedWorkflow("")
	require.ErrorIs(t, err, ErrEmptyWorkflow)

	_, err = ParseRecommendedWorkflow("bogus, nonsense")
	require.ErrorIs(t, err, ErrNoValidPhases)

	// One valid token among garbage still succeeds.
	got, err := ParseRecommendedWorkflow("bogus, exec")
	require.NoError(t, err)
	assert.Equal(t, []phase.Phase{phase.Exec}, got)
}

func TestExtractRecommendedWorkflow(t *testing.T) {
	out := `Some narrative text from the agent.

## Recommended Workflow

This issue needs the following phases:

**Phases:** spec → exec → qa
**Quality Loop:** enabled

More text follows.
`
	phases, loop, err := ExtractRecommendedWorkflow(out)
	require.NoError(t, err)
	assert.Equal(t, []phase.Phase{phase.Spec, phase.Exec, phase.QA}, phases)
	assert.True(t, loop)
}

func TestExtractRecommendedWorkflowMissing(t *testing.T) {
	_, _, err := ExtractRecommendedWorkflow("no section here at all")
	require.ErrorIs(t, err, ErrNoRecommendedWorkflow)
}
