package marker

import (
	"testing"
	"time"

	"github.com/sequant-dev/sequant/internal/phase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	m := phase.PhaseMarker{
		Phase:     phase.Exec,
		Status:    phase.PhaseCompleted,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	tag, err := Format(m)
	require.NoError(t, err)

	got := Parse(tag)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(m.Timestamp))
	assert.Equal(t, m.Phase, got[0].Phase)
	assert.Equal(t, m.Status, got[0].Status)
}

func TestParseIgnoresFencedCode(t *testing.T) {
	body := "Here is an example:\n\n```\n<!-- SEQUANT_PHASE: {\"phase\":\"exec\",\"status\":\"completed\",\"timestamp\":\"2026-01-01T00:00:00Z\"} -->\n```\n\nNo real marker here."
	got := Parse(body)
	assert.Empty(t, got)
}

func TestParseIgnoresInlineCode(t *testing.T) {
	body := "See `<!-- SEQUANT_PHASE: {\"phase\":\"exec\",\"status\":\"completed\",\"timestamp\":\"2026-01-01T00:00:00Z\"} -->` for the format."
	got := Parse(body)
	assert.Empty(t, got)
}

func TestGetPhaseMapMaxTimestampWins(t *testing.T) {
	early, _ := Format(phase.PhaseMarker{Phase: phase.Exec, Status: phase.PhaseInProgress, Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	late, _ := Format(phase.PhaseMarker{Phase: phase.Exec, Status: phase.PhaseCompleted, Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})

	comments := []Comment{{Body: early}, {Body: late}}
	m := GetPhaseMap(comments)
	require.Contains(t, m, phase.Exec)
	assert.Equal(t, phase.PhaseCompleted, m[phase.Exec].Status)
}

func TestGetPhaseMapTieBreaksByInsertionOrder(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first, _ := Format(phase.PhaseMarker{Phase: phase.Exec, Status: phase.PhaseFailed, Timestamp: ts})
	second, _ := Format(phase.PhaseMarker{Phase: phase.Exec, Status: phase.PhaseCompleted, Timestamp: ts})

	comments := []Comment{{Body: first}, {Body: second}}
	m := GetPhaseMap(comments)
	// Later-encountered marker (second) wins on an exact timestamp tie.
	assert.Equal(t, phase.PhaseCompleted, m[phase.Exec].Status)
}

func TestGetResumablePhasesDropsCompleted(t *testing.T) {
	completed, _ := Format(phase.PhaseMarker{Phase: phase.Spec, Status: phase.PhaseCompleted, Timestamp: time.Now()})
	comments := []Comment{{Body: completed}}

	requested := []phase.Phase{phase.Spec, phase.Exec, phase.QA}
	got := GetResumablePhases(requested, comments)
	assert.Equal(t, []phase.Phase{phase.Exec, phase.QA}, got)
}

func TestGetResumablePhasesKeepsFailed(t *testing.T) {
	failed, _ := Format(phase.PhaseMarker{Phase: phase.Spec, Status: phase.PhaseFailed, Timestamp: time.Now()})
	comments := []Comment{{Body: failed}}

	requested := []phase.Phase{phase.Spec, phase.Exec}
	got := GetResumablePhases(requested, comments)
	assert.Equal(t, requested, got)
}

func TestDetectPhaseFromCommentsEmpty(t *testing.T) {
	_, ok := DetectPhaseFromComments(nil)
	assert.False(t, ok)
}
