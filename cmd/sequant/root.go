package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags shared by every subcommand, following the teacher's
// PersistentFlags()+package-level-var+getter pattern.
var (
	verbose    bool
	dryRun     bool
	projectDir string
)

var rootCmd = &cobra.Command{
	Use:   "sequant",
	Short: "Issue-driven workflow engine",
	Long: `sequant drives GitHub issues through a configurable phase pipeline
(spec, exec, qa, ...), isolating each issue's work in its own git worktree
and opening a pull request when the work is ready for review.

Commands:
  run              Run one or more issues through the pipeline
  status           Show the current state of tracked issues
  cleanup          Remove state entries for worktrees that no longer exist
  rotate-logs      Preview or apply run-log directory rotation
  rebuild-state    Rebuild state.json from the run log directory`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command, exiting the process with status 1 on any
// command error (cobra has already printed it).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "stream phase output and warnings to the console")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "describe what would run without invoking the agent or mutating git state")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", "", "project directory (default: current directory)")
}

// GetProjectDir returns the resolved project directory, defaulting to the
// process's current working directory.
func GetProjectDir() string {
	if projectDir != "" {
		return projectDir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}
