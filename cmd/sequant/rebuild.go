package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sequant-dev/sequant/internal/config"
	"github.com/sequant-dev/sequant/internal/runlog"
	"github.com/sequant-dev/sequant/internal/state"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-state",
	Short: "Rebuild state.json from the run log directory",
	Long: `rebuild-state scans every RunLog newest-first and recreates an
IssueState per issue from only the first (newest) occurrence, mapping
PhaseLog statuses onto PhaseState statuses. This is an operator-invoked
recovery path for a missing or corrupted state.json; it is never run
automatically.`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	dir := GetProjectDir()
	opts := config.ResolveRunLogOptions(dir)
	reader := runlog.NewReader(opts.LogDir)
	st := state.New(filepath.Join(dir, ".sequant", "state.json"))

	ws, err := st.RebuildStateFromLogs(reader, time.Now())
	if err != nil {
		return fmt.Errorf("rebuild-state: %w", err)
	}
	fmt.Printf("rebuilt state for %d issue(s) from %s\n", len(ws.Issues), opts.LogDir)
	return nil
}
