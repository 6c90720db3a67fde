package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sequant-dev/sequant/internal/config"
	"github.com/sequant-dev/sequant/internal/runlog"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate-logs",
	Short: "Preview or apply run-log directory rotation",
	Long: `rotate-logs deletes the oldest run-log files until both the directory's
total size and file count fall under 90% of the configured thresholds. Pass
--dry-run (a persistent flag) to preview without deleting.`,
	Args: cobra.NoArgs,
	RunE: runRotate,
}

func init() {
	rootCmd.AddCommand(rotateCmd)
}

func runRotate(cmd *cobra.Command, args []string) error {
	dir := GetProjectDir()
	opts := config.ResolveRunLogOptions(dir)
	if !opts.Rotation.Enabled {
		fmt.Println("rotation is disabled in settings")
		return nil
	}

	if dryRun {
		removed, err := runlog.PreviewRotation(opts.LogDir, opts.Rotation)
		if err != nil {
			return fmt.Errorf("rotate-logs: %w", err)
		}
		if len(removed) == 0 {
			fmt.Println("nothing to rotate")
			return nil
		}
		fmt.Println("would remove:")
		for _, f := range removed {
			fmt.Printf("  %s\n", f)
		}
		return nil
	}

	if err := runlog.Rotate(opts.LogDir, opts.Rotation); err != nil {
		return fmt.Errorf("rotate-logs: %w", err)
	}
	fmt.Println("rotation complete")
	return nil
}
