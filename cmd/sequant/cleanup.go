package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sequant-dev/sequant/internal/state"
	"github.com/sequant-dev/sequant/internal/worktree"
)

var cleanupMaxAgeDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove state entries for worktrees that no longer exist",
	Long: `cleanup scans every tracked issue whose recorded worktree path is gone:
an issue with a merged PR is removed outright, otherwise it is marked
abandoned for operator review. An optional --max-age-days additionally
removes merged/abandoned entries whose last activity predates the
threshold. Use --dry-run (a persistent flag) to preview without mutating.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupMaxAgeDays, "max-age-days", 0, "also remove merged/abandoned entries older than this many days (0 disables)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	dir := GetProjectDir()
	st := state.New(filepath.Join(dir, ".sequant", "state.json"))
	wt := worktree.New(30 * time.Second)

	affected, err := st.CleanupStaleEntries(wt, cleanupMaxAgeDays, dryRun, time.Now())
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if len(affected) == 0 {
		fmt.Println("no stale entries found")
		return nil
	}
	verb := "removed or marked abandoned"
	if dryRun {
		verb = "would be removed or marked abandoned"
	}
	fmt.Printf("%s: %v\n", verb, affected)
	return cleanupDiscoverOrphans(cmd.Context(), dir, wt, st)
}

// cleanupDiscoverOrphans reports any worktree on disk with a feature-branch
// name but no matching tracked entry, per spec.md §4.1's discoverUntracked-
// Worktrees. It is informational only; the operator decides whether to
// adopt or remove each one.
func cleanupDiscoverOrphans(ctx context.Context, dir string, wt *worktree.Manager, st *state.Store) error {
	repoRoot, err := wt.RepoRoot(ctx, dir)
	if err != nil {
		return nil
	}
	lister := worktreeListerFunc(func() ([]string, error) {
		return wt.ListBranches(ctx, repoRoot)
	})
	untracked, err := st.DiscoverUntrackedWorktrees(lister, nil)
	if err != nil || len(untracked) == 0 {
		return nil
	}
	fmt.Println("untracked worktrees found on disk:")
	for _, u := range untracked {
		fmt.Printf("  #%d %s (%s)\n", u.Issue, u.Branch, u.Title)
	}
	return nil
}

type worktreeListerFunc func() ([]string, error)

func (f worktreeListerFunc) ListBranches() ([]string, error) { return f() }
