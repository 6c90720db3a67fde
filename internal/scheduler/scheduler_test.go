package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequant-dev/sequant/internal/host"
	"github.com/sequant-dev/sequant/internal/phase"
	"github.com/sequant-dev/sequant/internal/runner"
)

// fakeRunner records every RunIssue call and returns a canned result per
// issue, optionally tracking the branch each call would have created so
// chain mode has something to look up.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []runner.Options
	results map[int]phase.IssueResult
	states  map[int]phase.IssueState
}

func (f *fakeRunner) RunIssue(_ context.Context, iid int, _ phase.ExecutionConfig, opts runner.Options) (phase.IssueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if res, ok := f.results[iid]; ok {
		return res, nil
	}
	return phase.IssueResult{IssueNumber: iid, Success: true}, nil
}

func (f *fakeRunner) IssueState(iid int) (phase.IssueState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iss, ok := f.states[iid]
	return iss, ok, nil
}

type fakeHost struct {
	issues map[int]host.Issue
}

func (f *fakeHost) IssueView(_ context.Context, iid int) (host.Issue, error) {
	return f.issues[iid], nil
}

func TestRunParallelAllSucceed(t *testing.T) {
	fr := &fakeRunner{results: map[int]phase.IssueResult{}}
	fh := &fakeHost{issues: map[int]host.Issue{1: {Number: 1}, 2: {Number: 2}}}
	s := &Scheduler{Runner: fr, Host: fh}

	cfg := phase.DefaultExecutionConfig()
	result, err := s.Run(context.Background(), Request{Issues: []int{1, 2}, Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, ModeParallel, result.Mode)
	assert.Equal(t, 0, result.ExitCode)
	assert.Len(t, result.Issues, 2)
}

func TestRunParallelRefusesOnDependencyConflict(t *testing.T) {
	fr := &fakeRunner{}
	fh := &fakeHost{issues: map[int]host.Issue{
		1: {Number: 1},
		2: {Number: 2, Body: "Depends on: #1"},
	}}
	s := &Scheduler{Runner: fr, Host: fh}

	cfg := phase.DefaultExecutionConfig()
	_, err := s.Run(context.Background(), Request{Issues: []int{1, 2}, Config: cfg})
	require.ErrorIs(t, err, ErrDependencyConflict)
	assert.Empty(t, fr.calls)
}

func TestRunParallelForceParallelBypassesConflictCheck(t *testing.T) {
	fr := &fakeRunner{results: map[int]phase.IssueResult{}}
	fh := &fakeHost{issues: map[int]host.Issue{
		1: {Number: 1},
		2: {Number: 2, Body: "Depends on: #1"},
	}}
	s := &Scheduler{Runner: fr, Host: fh}

	cfg := phase.DefaultExecutionConfig()
	cfg.ForceParallel = true
	result, err := s.Run(context.Background(), Request{Issues: []int{1, 2}, Config: cfg})
	require.NoError(t, err)
	assert.Len(t, result.Issues, 2)
}

func TestRunSequentialOrdersByDependencyAndWarnsOnFailure(t *testing.T) {
	fr := &fakeRunner{results: map[int]phase.IssueResult{
		1: {IssueNumber: 1, Success: false},
		2: {IssueNumber: 2, Success: true},
	}}
	fh := &fakeHost{issues: map[int]host.Issue{
		1: {Number: 1},
		2: {Number: 2, Body: "Depends on: #1"},
	}}
	var warned []int
	s := &Scheduler{Runner: fr, Host: fh, Warn: warnFunc(func(issue int, _ string) {
		warned = append(warned, issue)
	})}

	cfg := phase.DefaultExecutionConfig()
	cfg.Sequential = true
	result, err := s.Run(context.Background(), Request{Issues: []int{2, 1}, Config: cfg})
	require.NoError(t, err)
	require.Len(t, result.Issues, 2)
	assert.Equal(t, 1, result.Issues[0].IssueNumber)
	assert.Equal(t, 2, result.Issues[1].IssueNumber)
	assert.Equal(t, []int{2}, warned)
}

func TestRunChainBreaksWhenWorktreeMissing(t *testing.T) {
	fr := &fakeRunner{
		results: map[int]phase.IssueResult{1: {IssueNumber: 1, Success: true}},
		states:  map[int]phase.IssueState{},
	}
	fh := &fakeHost{issues: map[int]host.Issue{1: {Number: 1}, 2: {Number: 2}, 3: {Number: 3}}}
	s := &Scheduler{Runner: fr, Host: fh}

	cfg := phase.DefaultExecutionConfig()
	cfg.Chain = true
	result, err := s.Run(context.Background(), Request{Issues: []int{1, 2, 3}, Config: cfg})
	require.NoError(t, err)
	assert.Len(t, result.Issues, 1)
}

func TestRunChainPassesPreviousBranchAsNextBase(t *testing.T) {
	fr := &fakeRunner{
		results: map[int]phase.IssueResult{
			1: {IssueNumber: 1, Success: true},
			2: {IssueNumber: 2, Success: true},
		},
		states: map[int]phase.IssueState{
			1: {Branch: "feature/1-first"},
			2: {Branch: "feature/2-second"},
		},
	}
	fh := &fakeHost{issues: map[int]host.Issue{1: {Number: 1}, 2: {Number: 2}}}
	s := &Scheduler{Runner: fr, Host: fh}

	cfg := phase.DefaultExecutionConfig()
	cfg.Chain = true
	cfg.BaseBranch = "main"
	result, err := s.Run(context.Background(), Request{Issues: []int{1, 2}, Config: cfg})
	require.NoError(t, err)
	assert.Len(t, result.Issues, 2)

	require.Len(t, fr.calls, 2)
	assert.Equal(t, "main", fr.calls[0].BaseBranch)
	assert.False(t, fr.calls[0].ChainMode)
	assert.True(t, fr.calls[0].IsLastLink == false)
	assert.Equal(t, "feature/1-first", fr.calls[1].BaseBranch)
	assert.True(t, fr.calls[1].ChainMode)
	assert.True(t, fr.calls[1].IsLastLink)
}

func TestRunChainQAGateBlocksOnUnfavorableVerdict(t *testing.T) {
	failingVerdict := phase.VerdictACNotMet
	fr := &fakeRunner{
		results: map[int]phase.IssueResult{
			10: {
				IssueNumber: 10,
				Success:     false,
				PhaseResults: []phase.PhaseResult{
					{Phase: phase.QA, Success: false, Verdict: &failingVerdict},
				},
			},
		},
		states: map[int]phase.IssueState{
			10: {Branch: "feature/10-first"},
		},
	}
	fh := &fakeHost{issues: map[int]host.Issue{10: {Number: 10}, 11: {Number: 11}, 12: {Number: 12}}}
	var warned []int
	s := &Scheduler{Runner: fr, Host: fh, Warn: warnFunc(func(issue int, _ string) {
		warned = append(warned, issue)
	})}

	cfg := phase.DefaultExecutionConfig()
	cfg.Chain = true
	cfg.QAGate = true
	result, err := s.Run(context.Background(), Request{Issues: []int{10, 11, 12}, Config: cfg})
	require.NoError(t, err)

	// Only issue 10 ran; 11 and 12 are never dispatched, so their state
	// stays not_started (spec.md S6).
	require.Len(t, result.Issues, 1)
	assert.Equal(t, 10, result.Issues[0].IssueNumber)
	require.Len(t, fr.calls, 1)
	assert.Equal(t, []int{10}, warned)
}

func TestRunChainQAGateAllowsFavorableVerdict(t *testing.T) {
	readyVerdict := phase.VerdictReadyForMerge
	fr := &fakeRunner{
		results: map[int]phase.IssueResult{
			10: {
				IssueNumber: 10,
				Success:     true,
				PhaseResults: []phase.PhaseResult{
					{Phase: phase.QA, Success: true, Verdict: &readyVerdict},
				},
			},
			11: {IssueNumber: 11, Success: true},
		},
		states: map[int]phase.IssueState{
			10: {Branch: "feature/10-first"},
			11: {Branch: "feature/11-second"},
		},
	}
	fh := &fakeHost{issues: map[int]host.Issue{10: {Number: 10}, 11: {Number: 11}}}
	s := &Scheduler{Runner: fr, Host: fh}

	cfg := phase.DefaultExecutionConfig()
	cfg.Chain = true
	cfg.QAGate = true
	result, err := s.Run(context.Background(), Request{Issues: []int{10, 11}, Config: cfg})
	require.NoError(t, err)
	assert.Len(t, result.Issues, 2)
	require.Len(t, fr.calls, 2)
}

func TestRunBatchesJoinsBetweenBatches(t *testing.T) {
	fr := &fakeRunner{results: map[int]phase.IssueResult{}}
	fh := &fakeHost{}
	s := &Scheduler{Runner: fr, Host: fh}

	cfg := phase.DefaultExecutionConfig()
	result, err := s.Run(context.Background(), Request{
		Config:  cfg,
		Batches: [][]int{{1, 2}, {3}},
	})
	require.NoError(t, err)
	assert.Equal(t, ModeBatch, result.Mode)
	assert.Len(t, result.Issues, 3)
}

// warnFunc adapts a plain function to runner.Warner.
type warnFunc func(issue int, msg string)

func (f warnFunc) Warn(issue int, msg string) { f(issue, msg) }
