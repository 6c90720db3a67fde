package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequant-dev/sequant/internal/phase"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, ".sequant", "state.json"))
}

func TestLoadMissingFileReturnsEmptyState(t *testing.T) {
	s := tempStore(t)
	ws, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Version)
	assert.Empty(t, ws.Issues)
}

func TestLoadInvalidJSONIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	s := New(path)

	_, err := s.Load()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestInitializeIssueThenUpdate(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(1, "Fix bug", now))

	// Idempotent: second call does not overwrite title.
	require.NoError(t, s.InitializeIssue(1, "Different title", now))

	iss, ok, err := s.GetIssueState(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fix bug", iss.Title)
	assert.Equal(t, phase.StatusNotStarted, iss.Status)
}

func TestUpdatePhaseStatusRequiresInitialized(t *testing.T) {
	s := tempStore(t)
	err := s.UpdatePhaseStatus(99, phase.Exec, phase.PhaseState{Status: phase.PhaseInProgress}, time.Now())
	require.ErrorIs(t, err, ErrIssueNotFound)
}

func TestUpdatePhaseStatusAndIssueStatus(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(7, "T", now))
	require.NoError(t, s.UpdatePhaseStatus(7, phase.Exec, phase.PhaseState{Status: phase.PhaseCompleted}, now))
	require.NoError(t, s.UpdateIssueStatus(7, phase.StatusReadyForMerge, now))

	iss, ok, err := s.GetIssueState(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, phase.PhaseCompleted, iss.Phases[phase.Exec].Status)
	assert.Equal(t, phase.StatusReadyForMerge, iss.Status)
}

func TestGetIssuesByStatusSorted(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(5, "a", now))
	require.NoError(t, s.InitializeIssue(2, "b", now))
	require.NoError(t, s.UpdateIssueStatus(5, phase.StatusBlocked, now))
	require.NoError(t, s.UpdateIssueStatus(2, phase.StatusBlocked, now))

	ids, err := s.GetIssuesByStatus(phase.StatusBlocked)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, ids)
}

func TestSaveIsAtomicWholeFile(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(1, "a", now))

	ws, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Version)
	assert.NotZero(t, ws.LastUpdated)
}

func TestReconcileAtStartupAdvancesOnMergedPR(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(100, "T", now))
	require.NoError(t, s.UpdateIssueStatus(100, phase.StatusReadyForMerge, now))
	require.NoError(t, s.UpdatePRInfo(100, phase.PRInfo{Number: 55}, now))

	facts := HostFacts{MergedPRNumbers: map[int]bool{55: true}}
	advanced, err := s.ReconcileAtStartup(context.Background(), facts, now)
	require.NoError(t, err)
	assert.Equal(t, []int{100}, advanced)

	iss, _, err := s.GetIssueState(100)
	require.NoError(t, err)
	assert.Equal(t, phase.StatusMerged, iss.Status)
}

func TestReconcileAtStartupIdempotent(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(1, "T", now))
	require.NoError(t, s.UpdateIssueStatus(1, phase.StatusReadyForMerge, now))
	require.NoError(t, s.UpdatePRInfo(1, phase.PRInfo{Number: 1}, now))

	facts := HostFacts{MergedPRNumbers: map[int]bool{1: true}}
	first, err := s.ReconcileAtStartup(context.Background(), facts, now)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := s.ReconcileAtStartup(context.Background(), facts, now)
	require.NoError(t, err)
	assert.Empty(t, second)
}

type fakeWorktreeChecker struct{ missing map[string]bool }

func (f fakeWorktreeChecker) Exists(path string) bool { return !f.missing[path] }

func TestCleanupStaleEntriesRemovesMergedAbandonsOthers(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(1, "merged-gone", now))
	require.NoError(t, s.UpdateWorktreeInfo(1, "/tmp/gone-1", "feature/1-x", now))
	require.NoError(t, s.UpdatePRInfo(1, phase.PRInfo{Number: 1}, now))
	require.NoError(t, s.UpdateIssueStatus(1, phase.StatusMerged, now))

	require.NoError(t, s.InitializeIssue(2, "open-gone", now))
	require.NoError(t, s.UpdateWorktreeInfo(2, "/tmp/gone-2", "feature/2-y", now))

	wc := fakeWorktreeChecker{missing: map[string]bool{"/tmp/gone-1": true, "/tmp/gone-2": true}}
	affected, err := s.CleanupStaleEntries(wc, 0, false, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2}, affected)

	_, ok, err := s.GetIssueState(1)
	require.NoError(t, err)
	assert.False(t, ok)

	iss2, ok, err := s.GetIssueState(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, phase.StatusAbandoned, iss2.Status)
}

func TestCleanupStaleEntriesDryRun(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(1, "x", now))
	require.NoError(t, s.UpdateWorktreeInfo(1, "/tmp/gone", "feature/1-x", now))

	wc := fakeWorktreeChecker{missing: map[string]bool{"/tmp/gone": true}}
	affected, err := s.CleanupStaleEntries(wc, 0, true, now)
	require.NoError(t, err)
	assert.NotEmpty(t, affected)

	iss, ok, err := s.GetIssueState(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, phase.StatusNotStarted, iss.Status)
}

type fakeWorktreeLister struct{ branches []string }

func (f fakeWorktreeLister) ListBranches() ([]string, error) { return f.branches, nil }

func TestDiscoverUntrackedWorktrees(t *testing.T) {
	s := tempStore(t)
	now := time.Now()
	require.NoError(t, s.InitializeIssue(1, "tracked", now))

	wl := fakeWorktreeLister{branches: []string{"feature/1-tracked", "feature/2-new", "main"}}
	found, err := s.DiscoverUntrackedWorktrees(wl, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 2, found[0].Issue)
}

type fakeLogSource struct{ logs []phase.RunLog }

func (f fakeLogSource) NewestFirst() ([]phase.RunLog, error) { return f.logs, nil }

func TestRebuildStateFromLogsKeepsOnlyNewest(t *testing.T) {
	s := tempStore(t)
	now := time.Now()

	newRun := phase.RunLog{
		StartTime: now,
		EndTime:   now,
		Issues: []phase.IssueLog{
			{IssueNumber: 1, Title: "newest", Status: phase.IssueLogSuccess,
				Phases: []phase.PhaseLog{{Phase: phase.QA, Status: phase.LogSuccess, StartTime: now, EndTime: now}}},
		},
	}
	oldRun := phase.RunLog{
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(-time.Hour),
		Issues: []phase.IssueLog{
			{IssueNumber: 1, Title: "oldest", Status: phase.IssueLogFailure},
		},
	}

	src := fakeLogSource{logs: []phase.RunLog{newRun, oldRun}}
	ws, err := s.RebuildStateFromLogs(src, now)
	require.NoError(t, err)
	require.Contains(t, ws.Issues, 1)
	assert.Equal(t, "newest", ws.Issues[1].Title)
	assert.Equal(t, phase.StatusReadyForMerge, ws.Issues[1].Status)
}
