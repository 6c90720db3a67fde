package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sequant-dev/sequant/internal/phase"
	"github.com/sequant-dev/sequant/internal/state"
)

var statusIssue int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of tracked issues",
	Long: `status prints every issue tracked in state.json, or a single issue's
detail when --issue is given.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusIssue, "issue", 0, "show detail for a single issue number")
}

func runStatus(cmd *cobra.Command, args []string) error {
	dir := GetProjectDir()
	st := state.New(filepath.Join(dir, ".sequant", "state.json"))

	if statusIssue != 0 {
		iss, ok, err := st.GetIssueState(statusIssue)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("issue #%d is not tracked\n", statusIssue)
			return nil
		}
		printIssueDetail(iss)
		return nil
	}

	all, err := st.GetAllIssueStates()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("no issues tracked")
		return nil
	}

	iids := make([]int, 0, len(all))
	for iid := range all {
		iids = append(iids, iid)
	}
	sort.Ints(iids)

	fmt.Printf("%-8s %-20s %-10s %-30s %s\n", "ISSUE", "STATUS", "PHASE", "BRANCH", "LAST ACTIVITY")
	for _, iid := range iids {
		iss := all[iid]
		fmt.Printf("#%-7d %-20s %-10s %-30s %s\n", iss.Number, iss.Status, iss.CurrentPhase, iss.Branch, iss.LastActivity.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printIssueDetail(iss phase.IssueState) {
	fmt.Printf("#%d  %s\n", iss.Number, iss.Title)
	fmt.Printf("  status:        %s\n", iss.Status)
	if iss.Branch != "" {
		fmt.Printf("  branch:        %s\n", iss.Branch)
	}
	if iss.Worktree != "" {
		fmt.Printf("  worktree:      %s\n", iss.Worktree)
	}
	if iss.PR != nil {
		fmt.Printf("  pr:            #%d %s\n", iss.PR.Number, iss.PR.URL)
	}
	if iss.Loop != nil {
		fmt.Printf("  quality loop:  enabled, iteration %d/%d\n", iss.Loop.Iteration, iss.Loop.MaxIterations)
	}
	fmt.Printf("  last activity: %s\n", iss.LastActivity.Format("2006-01-02 15:04:05"))
	if len(iss.Phases) == 0 {
		return
	}
	fmt.Println("  phases:")
	phases := make([]phase.Phase, 0, len(iss.Phases))
	for p := range iss.Phases {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
	for _, p := range phases {
		ps := iss.Phases[p]
		line := fmt.Sprintf("    %-16s %s", p, ps.Status)
		if ps.Error != "" {
			line += fmt.Sprintf("  (%s)", ps.Error)
		}
		fmt.Fprintln(os.Stdout, line)
	}
}
