// Package scheduler implements the Scheduler: resolving a run's scheduling
// mode (parallel/sequential/batch/chain) and fanning Issue Runner calls out
// across the requested issue set accordingly. Parallel fan-out is a bounded
// worker pool built on golang.org/x/sync/errgroup with
// errgroup.SetLimit(len(issues)), reshaped from the teacher's generic
// internal/worker.Pool[T] channel/sync.WaitGroup fan-out so a shutdown
// cancellation can propagate through errgroup's shared context without an
// ordinary sibling failure doing the same: every per-issue goroutine
// captures its result and always returns a nil error to the group, since a
// failed issue must never cancel its siblings (spec.md §7).
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sequant-dev/sequant/internal/depgraph"
	"github.com/sequant-dev/sequant/internal/host"
	"github.com/sequant-dev/sequant/internal/phase"
	"github.com/sequant-dev/sequant/internal/render"
	"github.com/sequant-dev/sequant/internal/runner"
	"github.com/sequant-dev/sequant/internal/shutdown"
)

// Mode is the resolved scheduling strategy for a run.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
	ModeBatch      Mode = "batch"
	ModeChain      Mode = "chain"
)

// ErrDependencyConflict is returned from the pre-flight check when parallel
// mode is requested over an issue set with dependency edges among its own
// members and the operator did not pass --force-parallel (spec.md §4.6).
var ErrDependencyConflict = errors.New("scheduler: dependency edges exist among the requested issues; rerun with --sequential or --force-parallel")

// HostClient is the slice of internal/host the Scheduler needs: issue
// body/labels for the pre-flight dependency check and sequential ordering.
type HostClient interface {
	IssueView(ctx context.Context, iid int) (host.Issue, error)
}

// IssueRunner is the Issue Runner capability the Scheduler drives. Declared
// as an interface (rather than depending on *runner.Runner directly) so
// tests can substitute a fake without constructing a real Runner's full
// dependency graph.
type IssueRunner interface {
	RunIssue(ctx context.Context, iid int, cfg phase.ExecutionConfig, opts runner.Options) (phase.IssueResult, error)
	// IssueState returns an issue's current recorded state, used in chain
	// mode to learn the branch the just-run link created for the next
	// link's base.
	IssueState(iid int) (phase.IssueState, bool, error)
}

// Scheduler resolves a run's scheduling mode and executes it. One Scheduler
// per run, constructed with its dependencies injected — never a
// package-level global.
type Scheduler struct {
	Runner   IssueRunner
	Host     HostClient
	Render   render.Renderer
	Shutdown *shutdown.Manager
	Warn     runner.Warner
}

// Request bundles one Scheduler invocation's inputs.
type Request struct {
	// Issues is the full requested issue set, in operator-given order for
	// chain mode and flattened order otherwise.
	Issues []int
	Config phase.ExecutionConfig
	// Batches groups Issues for batch mode; each inner slice runs in
	// parallel, batches run one after another with a join barrier. Ignored
	// unless len(Batches) > 0.
	Batches [][]int
}

// Result is one Scheduler run's outcome.
type Result struct {
	Issues   []phase.IssueResult
	Mode     Mode
	ExitCode int
}

// resolveMode picks the scheduling mode from cfg and req, per spec.md §4.6:
// chain and batch are explicit opt-ins, sequential is explicit, and parallel
// is the default otherwise, including for a single issue (Run skips the
// dependency pre-flight when fewer than two issues are requested).
func resolveMode(cfg phase.ExecutionConfig, batches [][]int) Mode {
	switch {
	case cfg.Chain:
		return ModeChain
	case len(batches) > 0:
		return ModeBatch
	case cfg.Sequential:
		return ModeSequential
	default:
		return ModeParallel
	}
}

func (s *Scheduler) warn(issue int, format string, a ...any) {
	if s.Warn != nil {
		s.Warn.Warn(issue, fmt.Sprintf(format, a...))
	}
}

// Run executes req under its resolved mode and returns the aggregate
// Result. The returned error is non-nil only for a pre-flight or internal
// failure (dependency conflict, issue-fetch failure, cycle) — individual
// issue failures are reported through Result.Issues, never as an error,
// per spec.md §7's "issue failures don't abort the run" rule.
func (s *Scheduler) Run(ctx context.Context, req Request) (Result, error) {
	mode := resolveMode(req.Config, req.Batches)

	if mode == ModeParallel && len(req.Issues) > 1 && !req.Config.ForceParallel {
		conflict, err := s.hasDependencyEdges(ctx, req.Issues)
		if err != nil {
			return Result{Mode: mode, ExitCode: 2}, err
		}
		if conflict {
			return Result{Mode: mode, ExitCode: 2}, ErrDependencyConflict
		}
	}

	var results []phase.IssueResult
	var err error
	switch mode {
	case ModeParallel:
		results, err = s.runParallel(ctx, req.Issues, req.Config)
	case ModeSequential:
		results, err = s.runSequential(ctx, req.Issues, req.Config)
	case ModeBatch:
		results, err = s.runBatches(ctx, req.Batches, req.Config)
	case ModeChain:
		results, err = s.runChain(ctx, req.Issues, req.Config)
	}
	if err != nil {
		return Result{Issues: results, Mode: mode, ExitCode: 2}, err
	}

	exit := 0
	for _, r := range results {
		if !r.Success {
			exit = 1
		}
	}
	return Result{Issues: results, Mode: mode, ExitCode: exit}, nil
}

// buildGraph fetches every requested issue's body/labels and builds the
// Dependency Resolver's graph over them.
func (s *Scheduler) buildGraph(ctx context.Context, issues []int) (*depgraph.Graph, error) {
	ghIssues := make([]depgraph.Issue, 0, len(issues))
	for _, iid := range issues {
		iss, err := s.Host.IssueView(ctx, iid)
		if err != nil {
			return nil, fmt.Errorf("scheduler: fetching issue #%d: %w", iid, err)
		}
		ghIssues = append(ghIssues, depgraph.Issue{Number: iss.Number, Body: iss.Body, Labels: iss.Labels})
	}
	return depgraph.Build(ghIssues), nil
}

func (s *Scheduler) hasDependencyEdges(ctx context.Context, issues []int) (bool, error) {
	g, err := s.buildGraph(ctx, issues)
	if err != nil {
		return false, err
	}
	return g.HasEdges(), nil
}

// runParallel starts one Issue Runner per issue concurrently, bounded by
// the issue count, with a shared renderer owning the terminal. Every
// goroutine swallows its issue's own error into its result slot rather than
// returning it to the errgroup, so one issue's failure never cancels its
// siblings; only a Shutdown-triggered context cancellation propagates.
func (s *Scheduler) runParallel(ctx context.Context, issues []int, cfg phase.ExecutionConfig) ([]phase.IssueResult, error) {
	results := make([]phase.IssueResult, len(issues))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(issues))
	for i, iid := range issues {
		i, iid := i, iid
		g.Go(func() error {
			res, _ := s.Runner.RunIssue(gctx, iid, cfg, runner.Options{BaseBranch: cfg.BaseBranch})
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// runSequential topologically sorts issues via the Dependency Resolver and
// runs one Issue Runner at a time in that order. A failed issue warns about
// every issue depending on it but does not stop the sequence, per
// spec.md §4.6.
func (s *Scheduler) runSequential(ctx context.Context, issues []int, cfg phase.ExecutionConfig) ([]phase.IssueResult, error) {
	g, err := s.buildGraph(ctx, issues)
	if err != nil {
		return nil, err
	}
	order, err := g.TopoSort()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	results := make([]phase.IssueResult, 0, len(order))
	for _, iid := range order {
		res, _ := s.Runner.RunIssue(ctx, iid, cfg, runner.Options{BaseBranch: cfg.BaseBranch})
		results = append(results, res)
		if !res.Success {
			for _, dep := range g.DependentsOf(iid) {
				s.warn(dep, "depends on issue #%d, which failed", iid)
			}
		}
		if s.Shutdown != nil && s.Shutdown.IsStopping() {
			break
		}
	}
	return results, nil
}

// runBatches runs each batch's issues in parallel, joining before starting
// the next batch (spec.md §4.6's "between batches, sequential with a join
// barrier"). A failed batch does not stop later batches.
func (s *Scheduler) runBatches(ctx context.Context, batches [][]int, cfg phase.ExecutionConfig) ([]phase.IssueResult, error) {
	var all []phase.IssueResult
	for _, batch := range batches {
		res, err := s.runParallel(ctx, batch, cfg)
		if err != nil {
			return all, err
		}
		all = append(all, res...)
		if s.Shutdown != nil && s.Shutdown.IsStopping() {
			break
		}
	}
	return all, nil
}

// qaVerdict returns the QA phase's verdict from an issue result, if any.
func qaVerdict(res phase.IssueResult) (phase.Verdict, bool) {
	for _, pr := range res.PhaseResults {
		if pr.Phase == phase.QA && pr.Verdict != nil {
			return *pr.Verdict, true
		}
	}
	return "", false
}

// qaGateBlocks reports whether res should stop a qaGate chain from starting
// its next link: an unsuccessful issue, or a QA verdict that is not
// favorable (spec.md §4.6 "qaGate ... additionally blocks the next issue
// until the previous one's QA has passed").
func qaGateBlocks(res phase.IssueResult) bool {
	if !res.Success {
		return true
	}
	if v, ok := qaVerdict(res); ok && !v.IsFavorable() {
		return true
	}
	return false
}

// runChain runs issues one at a time, each branching from the previous
// issue's local branch rather than the base (spec.md §4.6); the chain
// breaks — stopping before any further issue runs — the moment a worktree
// could not be recorded for the current link, or, when cfg.QAGate is set,
// the moment a link's QA verdict was not favorable (or the link otherwise
// failed). Without qaGate the next link still never starts until the
// previous RunIssue call has fully returned, which is always after its QA
// phase (if any) has run; qaGate adds the additional requirement that the
// run actually succeeded.
func (s *Scheduler) runChain(ctx context.Context, issues []int, cfg phase.ExecutionConfig) ([]phase.IssueResult, error) {
	results := make([]phase.IssueResult, 0, len(issues))
	base := cfg.BaseBranch
	chainMode := false
	for i, iid := range issues {
		isLast := i == len(issues)-1
		res, _ := s.Runner.RunIssue(ctx, iid, cfg, runner.Options{
			BaseBranch: base,
			ChainMode:  chainMode,
			IsLastLink: isLast,
		})
		results = append(results, res)

		if s.Shutdown != nil && s.Shutdown.IsStopping() {
			break
		}

		if cfg.QAGate && qaGateBlocks(res) {
			s.warn(iid, "chain broken: qa-gate blocked on issue #%d", iid)
			break
		}

		iss, found, err := s.Runner.IssueState(iid)
		if err != nil || !found || iss.Branch == "" {
			s.warn(iid, "chain broken: no worktree recorded for issue #%d", iid)
			break
		}
		base = iss.Branch
		chainMode = true
	}
	return results, nil
}
