package main

import (
	"context"
	"time"

	"github.com/sequant-dev/sequant/internal/state"
	"github.com/sequant-dev/sequant/internal/worktree"
)

// prMergeChecker is the slice of internal/host.Client reconcileAtStartup
// needs, declared locally so this file stays a thin adapter rather than a
// second place that imports the whole host package surface.
type prMergeChecker interface {
	IsPRMerged(ctx context.Context, number int) (bool, error)
}

// reconcileAtStartup builds the state.HostFacts the spec's §4.1 startup
// reconciliation needs (merged PR numbers, merged feature branches) and
// advances every ready_for_merge issue it confirms is merged. It runs once,
// before any phase executes, so already-completed work from a prior
// invocation is never re-run (spec.md §3 "Reconciliation at startup").
func reconcileAtStartup(ctx context.Context, st *state.Store, wt *worktree.Manager, host prMergeChecker, dir, baseBranch string, now time.Time) ([]int, error) {
	all, err := st.GetAllIssueStates()
	if err != nil {
		return nil, err
	}

	facts := state.HostFacts{
		MergedPRNumbers:       map[int]bool{},
		MergedFeatureBranches: map[string]bool{},
	}

	for _, iss := range all {
		if iss.PR == nil {
			continue
		}
		merged, err := host.IsPRMerged(ctx, iss.PR.Number)
		if err != nil {
			continue
		}
		if merged {
			facts.MergedPRNumbers[iss.PR.Number] = true
		}
	}

	if repoRoot, err := wt.RepoRoot(ctx, dir); err == nil {
		if branches, err := wt.MergedBranches(ctx, repoRoot, baseBranch); err == nil {
			for _, b := range branches {
				facts.MergedFeatureBranches[b] = true
			}
		}
	}

	return st.ReconcileAtStartup(ctx, facts, now)
}
