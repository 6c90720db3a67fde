package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sequant-dev/sequant/internal/agent"
	"github.com/sequant-dev/sequant/internal/config"
	"github.com/sequant-dev/sequant/internal/executor"
	"github.com/sequant-dev/sequant/internal/host"
	"github.com/sequant-dev/sequant/internal/obslog"
	"github.com/sequant-dev/sequant/internal/phase"
	"github.com/sequant-dev/sequant/internal/render"
	"github.com/sequant-dev/sequant/internal/runlog"
	"github.com/sequant-dev/sequant/internal/runner"
	"github.com/sequant-dev/sequant/internal/scheduler"
	"github.com/sequant-dev/sequant/internal/shutdown"
	"github.com/sequant-dev/sequant/internal/state"
	"github.com/sequant-dev/sequant/internal/worktree"
)

var (
	runPhases        string
	runSequential    bool
	runForceParallel bool
	runChain         bool
	runQAGate        bool
	runBase          string
	runTimeout       int
	runQualityLoop   bool
	runMaxIterations int
	runTestgen       bool
	runBatches       []string
	runNoSmartTests  bool
	runNoMCP         bool
	runNoRetry       bool
	runNoRebase      bool
	runNoPR          bool
	runResume        bool
	runForce         bool
	runRepo          string
)

var runCmd = &cobra.Command{
	Use:   "run <issue> [issue...]",
	Short: "Run one or more issues through the phase pipeline",
	Long: `run drives each given issue number through its phase pipeline, in the
mode selected by --sequential/--chain/--batch (default: parallel), and
prints a per-issue summary when every issue has finished.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runPhases, "phases", "", "comma-separated phase list (default: auto-detected)")
	runCmd.Flags().BoolVar(&runSequential, "sequential", false, "run issues one at a time in dependency order")
	runCmd.Flags().BoolVar(&runForceParallel, "force-parallel", false, "run in parallel even if the requested issues have dependency edges among them")
	runCmd.Flags().BoolVar(&runChain, "chain", false, "run issues one at a time, each branching from the previous issue's branch")
	runCmd.Flags().BoolVar(&runQAGate, "qa-gate", false, "in chain mode, block the next link from starting unless the previous link's qa verdict was favorable")
	runCmd.Flags().StringVar(&runBase, "base", "main", "base branch new worktrees are cut from")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 1800, "per-phase timeout in seconds")
	runCmd.Flags().BoolVar(&runQualityLoop, "quality-loop", false, "re-run failed phases via the loop phase, up to --max-iterations")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 3, "maximum quality-loop iterations")
	runCmd.Flags().BoolVar(&runTestgen, "testgen", false, "insert a testgen phase after spec")
	runCmd.Flags().StringArrayVar(&runBatches, "batch", nil, `comma-separated issue group, e.g. --batch "1,2" --batch "3" (repeatable; enables batch mode)`)
	runCmd.Flags().BoolVar(&runNoSmartTests, "no-smart-tests", false, "disable changed-file-scoped test selection")
	runCmd.Flags().BoolVar(&runNoMCP, "no-mcp", false, "disable MCP servers for the agent")
	runCmd.Flags().BoolVar(&runNoRetry, "no-retry", false, "disable the cold-start/MCP-fallback retry policy")
	runCmd.Flags().BoolVar(&runNoRebase, "no-rebase", false, "skip the pre-submission rebase onto the base branch")
	runCmd.Flags().BoolVar(&runNoPR, "no-pr", false, "skip opening a pull request after a successful run")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "skip phases that already have a completed phase marker in the issue's comments")
	runCmd.Flags().BoolVar(&runForce, "force", false, "recorded in the run config; issues run whatever their recorded status, with or without it")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "owner/repo to target (default: $GITHUB_REPOSITORY)")
}

func runRun(cmd *cobra.Command, args []string) error {
	issues, err := parseIssueArgs(args)
	if err != nil {
		return err
	}
	return executeRun(cmd.Context(), issues)
}

func parseIssueArgs(args []string) ([]int, error) {
	issues := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(strings.TrimPrefix(a, "#"))
		if err != nil {
			return nil, fmt.Errorf("invalid issue number %q: %w", a, err)
		}
		issues = append(issues, n)
	}
	return issues, nil
}

func parseBatches(raw []string) ([][]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	batches := make([][]int, 0, len(raw))
	for _, group := range raw {
		issues, err := parseIssueArgs(strings.Split(group, ","))
		if err != nil {
			return nil, fmt.Errorf("--batch %q: %w", group, err)
		}
		batches = append(batches, issues)
	}
	return batches, nil
}

func flagOrNil[T any](changed bool, v T) *T {
	if !changed {
		return nil
	}
	return &v
}

func buildFlags(f *pflagSet) config.Flags {
	var phases []phase.Phase
	if runPhases != "" {
		for _, p := range strings.Split(runPhases, ",") {
			phases = append(phases, phase.Phase(strings.TrimSpace(p)))
		}
	}
	return config.Flags{
		Phases:        phases,
		PhaseTimeout:  flagOrNil(f.changed("timeout"), runTimeout),
		QualityLoop:   flagOrNil(f.changed("quality-loop"), runQualityLoop),
		MaxIterations: flagOrNil(f.changed("max-iterations"), runMaxIterations),
		Sequential:    flagOrNil(f.changed("sequential"), runSequential),
		ForceParallel: flagOrNil(f.changed("force-parallel"), runForceParallel),
		Chain:         flagOrNil(f.changed("chain"), runChain),
		QAGate:        flagOrNil(f.changed("qa-gate"), runQAGate),
		NoSmartTests:  flagOrNil(f.changed("no-smart-tests"), runNoSmartTests),
		DryRun:        flagOrNil(true, dryRun),
		Verbose:       flagOrNil(true, verbose),
		NoMCP:         flagOrNil(f.changed("no-mcp"), runNoMCP),
		NoRetry:       flagOrNil(f.changed("no-retry"), runNoRetry),
		BaseBranch:    flagOrNil(f.changed("base"), runBase),
		Resume:        flagOrNil(f.changed("resume"), runResume),
		NoRebase:      flagOrNil(f.changed("no-rebase"), runNoRebase),
		NoPR:          flagOrNil(f.changed("no-pr"), runNoPR),
		Force:         flagOrNil(f.changed("force"), runForce),
		Testgen:       flagOrNil(f.changed("testgen"), runTestgen),
	}
}

// pflagSet wraps cobra's FlagSet so buildFlags can ask "was this flag
// explicitly passed" without threading *cobra.Command through every
// helper.
type pflagSet struct {
	cmd *cobra.Command
}

func (f *pflagSet) changed(name string) bool {
	return f.cmd.Flags().Changed(name)
}

func resolveHostTarget() (owner, repo string, err error) {
	target := runRepo
	if target == "" {
		target = os.Getenv("GITHUB_REPOSITORY")
	}
	parts := strings.SplitN(target, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("no target repository: pass --repo owner/name or set GITHUB_REPOSITORY")
	}
	return parts[0], parts[1], nil
}

func executeRun(ctx context.Context, issues []int) error {
	dir := GetProjectDir()
	flags := buildFlags(&pflagSet{cmd: runCmd})
	cfg := config.Resolve(dir, flags)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	batches, err := parseBatches(runBatches)
	if err != nil {
		return err
	}

	logger, err := obslog.New(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	owner, repo, err := resolveHostTarget()
	if err != nil {
		return err
	}
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return fmt.Errorf("GITHUB_TOKEN is not set")
	}
	hostClient := host.New(token, owner, repo, cfg.BaseBranch, 30*time.Second)

	logOpts := config.ResolveRunLogOptions(dir)
	rl := runlog.New(logOpts.LogDir, "", logOpts.Rotation)
	rl.Initialize(cfg, time.Now())

	st := state.New(filepath.Join(dir, ".sequant", "state.json"))

	wt := worktree.New(time.Duration(cfg.PhaseTimeout) * time.Second)

	if !cfg.DryRun {
		if advanced, err := reconcileAtStartup(ctx, st, wt, hostClient, dir, cfg.BaseBranch, time.Now()); err != nil {
			logger.Warn("startup reconciliation failed", zap.Error(err))
			if cfg.Verbose {
				warnf("startup reconciliation: %v", err)
			}
		} else if len(advanced) > 0 {
			logger.Info("reconciled merged issues", zap.Ints("issues", advanced))
		}
	}

	agentBin := os.Getenv("SEQUANT_AGENT_BIN")
	if agentBin == "" {
		agentBin = "claude"
	}
	ex := executor.New(agent.NewClaudeAgent(agentBin))

	sd := shutdown.New()
	sd.Start()
	defer sd.Stop()

	renderer := render.New(os.Stdout)
	defer renderer.Close()

	var warner runner.Warner = warnerFunc(func(issue int, msg string) {
		logger.Warn(msg, obslog.Fields(issue, "")...)
		if cfg.Verbose {
			warnf("issue #%d: %s", issue, msg)
		}
	})

	logger.Info("starting run", zap.Ints("issues", issues), zap.String("base", cfg.BaseBranch))

	r := &runner.Runner{
		Executor: ex,
		Worktree: wt,
		State:    st,
		RunLog:   rl,
		Host:     hostClient,
		Shutdown: sd,
		Render:   renderer,
		Warn:     warner,
		BaseEnv:  os.Environ(),
	}

	sched := &scheduler.Scheduler{
		Runner:   r,
		Host:     hostClient,
		Render:   renderer,
		Shutdown: sd,
		Warn:     warner,
	}

	result, runErr := sched.Run(ctx, scheduler.Request{Issues: issues, Config: cfg, Batches: batches})

	if path, err := rl.Finalize(time.Now()); err != nil {
		logger.Warn("finalize run log failed", zap.Error(err))
		warnf("finalize run log: %v", err)
	} else {
		logger.Info("run log written", zap.String("path", path), zap.Int("exitCode", result.ExitCode))
		if cfg.Verbose {
			fmt.Fprintf(os.Stdout, "run log written to %s\n", path)
		}
	}

	printSummary(result)

	if runErr != nil {
		return runErr
	}
	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
	return nil
}

// warnerFunc adapts a plain function to runner.Warner.
type warnerFunc func(issue int, msg string)

func (f warnerFunc) Warn(issue int, msg string) { f(issue, msg) }

func printSummary(result scheduler.Result) {
	fmt.Println()
	fmt.Printf("mode: %s\n", result.Mode)
	for _, r := range result.Issues {
		mark := "✓"
		if !r.Success {
			mark = "✗"
		}
		fmt.Printf("%s #%d", mark, r.IssueNumber)
		if r.LoopTriggered {
			fmt.Print(" (quality loop triggered)")
		}
		if r.PRNumber != nil {
			fmt.Printf(" -> PR #%d", *r.PRNumber)
		}
		fmt.Println()
		for _, pr := range r.PhaseResults {
			status := "ok"
			if !pr.Success {
				status = "failed"
			}
			fmt.Printf("    %-10s %-7s %.1fs\n", pr.Phase, status, pr.DurationSeconds)
		}
	}
	fmt.Printf("\nexit code: %d\n", result.ExitCode)
}
