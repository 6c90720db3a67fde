package runlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequant-dev/sequant/internal/phase"
)

func TestInitializeStartIssueLogPhaseFinalize(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "logs"), "", DefaultRotationConfig())

	cfg := phase.DefaultExecutionConfig()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w.Initialize(cfg, now)
	require.NotEmpty(t, w.RunID())

	w.StartIssue(42, "Fix the thing", []string{"bug"})
	w.LogPhase(phase.PhaseLog{Phase: phase.Exec, Status: phase.LogSuccess, DurationSeconds: 10})
	w.LogPhase(phase.PhaseLog{Phase: phase.QA, Status: phase.LogSuccess, DurationSeconds: 5})
	w.CompleteIssue()

	path, err := w.Finalize(now.Add(20 * time.Second))
	require.NoError(t, err)
	assert.FileExists(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"issueNumber": 42`)
}

func TestLogPhaseRollingStatus(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "logs"), "", DefaultRotationConfig())
	w.Initialize(phase.DefaultExecutionConfig(), time.Now())

	w.StartIssue(1, "t", nil)
	w.LogPhase(phase.PhaseLog{Phase: phase.Spec, Status: phase.LogSuccess})
	w.LogPhase(phase.PhaseLog{Phase: phase.Exec, Status: phase.LogTimeout})
	w.CompleteIssue()

	require.Len(t, w.log.Issues, 1)
	assert.Equal(t, phase.IssueLogPartial, w.log.Issues[0].Status)
}

func TestLogPhaseFailureOverridesTimeout(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "logs"), "", DefaultRotationConfig())
	w.Initialize(phase.DefaultExecutionConfig(), time.Now())

	w.StartIssue(1, "t", nil)
	w.LogPhase(phase.PhaseLog{Phase: phase.Spec, Status: phase.LogTimeout})
	w.LogPhase(phase.PhaseLog{Phase: phase.Exec, Status: phase.LogFailure})
	w.CompleteIssue()

	assert.Equal(t, phase.IssueLogFailure, w.log.Issues[0].Status)
}

func TestAutoCompleteOnStartIssue(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "logs"), "", DefaultRotationConfig())
	w.Initialize(phase.DefaultExecutionConfig(), time.Now())

	w.StartIssue(1, "one", nil)
	w.StartIssue(2, "two", nil)
	w.CompleteIssue()

	require.Len(t, w.log.Issues, 2)
	assert.Equal(t, 1, w.log.Issues[0].IssueNumber)
	assert.Equal(t, 2, w.log.Issues[1].IssueNumber)
}

func TestSummaryInvariant(t *testing.T) {
	dir := t.TempDir()
	w := New(filepath.Join(dir, "logs"), "", DefaultRotationConfig())
	w.Initialize(phase.DefaultExecutionConfig(), time.Now())

	w.StartIssue(1, "pass", nil)
	w.LogPhase(phase.PhaseLog{Phase: phase.QA, Status: phase.LogSuccess})
	w.CompleteIssue()

	w.StartIssue(2, "fail", nil)
	w.LogPhase(phase.PhaseLog{Phase: phase.QA, Status: phase.LogFailure})
	w.CompleteIssue()

	w.StartIssue(3, "partial", nil)
	w.LogPhase(phase.PhaseLog{Phase: phase.Exec, Status: phase.LogTimeout})
	w.CompleteIssue()

	_, err := w.Finalize(time.Now())
	require.NoError(t, err)

	s := w.log.Summary
	assert.Equal(t, 3, s.TotalIssues)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Partial)
	assert.LessOrEqual(t, s.Passed+s.Failed, s.TotalIssues)
}

func TestRotationBoundary(t *testing.T) {
	dir := t.TempDir()
	cfg := RotationConfig{Enabled: true, MaxSizeMB: 0.001, MaxFiles: 2}

	// Write three small files, oldest first.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, time.Now().Format("run-20060102")+"-"+string(rune('a'+i))+".json")
		require.NoError(t, os.WriteFile(p, []byte(`{"x":1}`), 0o644))
		mt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}

	require.NoError(t, Rotate(dir, cfg))

	_, stats, err := statDir(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.FileCount, 2)
}

func TestRotationNoOpUnderThreshold(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "run-1.json")
	require.NoError(t, os.WriteFile(p, []byte(`{}`), 0o644))

	require.NoError(t, Rotate(dir, DefaultRotationConfig()))
	assert.FileExists(t, p)
}

func TestPreviewRotationDoesNotDelete(t *testing.T) {
	dir := t.TempDir()
	cfg := RotationConfig{Enabled: true, MaxSizeMB: 0.0001, MaxFiles: 1}
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".json")
		require.NoError(t, os.WriteFile(p, []byte(`{"x":1}`), 0o644))
	}
	removed, err := PreviewRotation(dir, cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
