// Package runner implements the Issue Runner: driving one issue end-to-end
// through phase determination, the phase sequence (with bounded
// quality-loop iteration), state/log bookkeeping, phase-marker comments, and
// the post-QA hand-off to the Worktree Manager's submission flow. Grounded
// on the teacher's cmd/ao/rpi_loop.go / rpi_loop_supervisor.go
// iterate-with-supervisor shape: a bounded iteration count, structured
// carry-over state between iterations, and early abort on shutdown.
package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sequant-dev/sequant/internal/executor"
	"github.com/sequant-dev/sequant/internal/host"
	"github.com/sequant-dev/sequant/internal/marker"
	"github.com/sequant-dev/sequant/internal/phase"
	"github.com/sequant-dev/sequant/internal/phasemap"
	"github.com/sequant-dev/sequant/internal/render"
	"github.com/sequant-dev/sequant/internal/runlog"
	"github.com/sequant-dev/sequant/internal/shutdown"
	"github.com/sequant-dev/sequant/internal/state"
	"github.com/sequant-dev/sequant/internal/worktree"
)

// HostClient is the slice of internal/host's client the Issue Runner needs:
// fetching issue metadata and posting phase-marker comments, plus (via the
// embedded worktree.HostClient) creating and looking up pull requests for
// the post-QA submission hand-off.
type HostClient interface {
	IssueView(ctx context.Context, iid int) (host.Issue, error)
	PostComment(ctx context.Context, iid int, body string) error
	worktree.HostClient
}

// Clock lets tests substitute a fixed time source; production code leaves
// it nil and Runner falls back to time.Now.
type Clock func() time.Time

// Options carries the per-issue orchestration context the Scheduler
// resolves before calling RunIssue: which base branch/ref a new worktree
// should be cut from, and whether this issue is a link in a dependency
// chain.
type Options struct {
	// BaseBranch is the ref new worktrees are created from: the
	// config's BaseBranch normally, or the previous chain link's local
	// branch name in chain mode.
	BaseBranch string
	// ChainMode indicates BaseBranch names a local branch rather than a
	// remote-tracked one (spec.md §4.3 step 3).
	ChainMode bool
	// IsLastLink indicates this issue is the last in its chain, relevant
	// only to the pre-submission rebase-only-for-last-link rule
	// (spec.md §4.3(b)).
	IsLastLink bool
}

// Warner receives non-fatal operator warnings (rebase conflicts, PR push
// failures, swallowed state-store errors in verbose mode). Production code
// wires this to a logger; tests can capture calls.
type Warner interface {
	Warn(issue int, msg string)
}

// Runner drives one issue end-to-end. One Runner is shared across every
// concurrently running issue in a run — all per-issue mutable state lives
// on the call stack inside RunIssue, never on the Runner itself, so this
// type is safe to call concurrently from the Scheduler.
type Runner struct {
	Executor *executor.Executor
	Worktree *worktree.Manager
	State    *state.Store
	RunLog   *runlog.Writer
	Host     HostClient
	Shutdown *shutdown.Manager
	Render   render.Renderer
	Warn     Warner
	BaseEnv  []string
	Now      Clock
}

// IssueState returns iid's current recorded state, letting the Scheduler
// learn a just-run chain link's branch name for the next link's base
// without holding its own reference to the State Store.
func (r *Runner) IssueState(iid int) (phase.IssueState, bool, error) {
	return r.State.GetIssueState(iid)
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) warn(issue int, format string, a ...any) {
	if r.Warn != nil {
		r.Warn.Warn(issue, fmt.Sprintf(format, a...))
	}
}

// renderSink adapts a render.Renderer bound to one issue into the
// executor.StreamSink interface the Phase Executor streams against.
type renderSink struct {
	r     render.Renderer
	issue int
}

func (s *renderSink) OnStderr(line string)       { s.r.OnStderr(s.issue, line) }
func (s *renderSink) PauseForStream()            { s.r.PauseForStream(s.issue) }
func (s *renderSink) ResumeAfterStream()         { s.r.ResumeAfterStream(s.issue) }

// issueRun holds the per-invocation mutable state carried across phases and
// quality-loop iterations for a single issue. Never shared across issues.
type issueRun struct {
	iid     int
	cfg     phase.ExecutionConfig
	issue   host.Issue
	opts    Options
	wt      *phase.Worktree
	session string
	lastDir string
	results []phase.PhaseResult
}

func containsPhase(phases []phase.Phase, target phase.Phase) bool {
	for _, p := range phases {
		if p == target {
			return true
		}
	}
	return false
}

// RunIssue executes iid's full phase pipeline and returns its IssueResult.
// State and run-log errors in the hot path are swallowed per
// spec.md §4.1/§4.5/§7 ("errors ... must never abort phase execution");
// only a failure to fetch the issue itself (Host.IssueView) is fatal.
func (r *Runner) RunIssue(ctx context.Context, iid int, cfg phase.ExecutionConfig, opts Options) (phase.IssueResult, error) {
	start := r.now()

	issue, err := r.Host.IssueView(ctx, iid)
	if err != nil {
		return phase.IssueResult{IssueNumber: iid, Success: false, AbortReason: err.Error()}, err
	}

	_ = r.State.InitializeIssue(iid, issue.Title, r.now())
	_ = r.State.UpdateIssueStatus(iid, phase.StatusInProgress, r.now())
	r.RunLog.StartIssue(iid, issue.Title, issue.Labels)

	ru := &issueRun{iid: iid, cfg: cfg, issue: issue, opts: opts}

	result := phase.IssueResult{IssueNumber: iid}

	if r.Shutdown != nil && r.Shutdown.IsStopping() {
		result.AbortReason = "Shutdown in progress"
		r.finishIssue(ru, &result, start)
		return result, nil
	}

	phases, qualityLoop, specResult := r.determinePhases(ctx, ru)
	if specResult != nil {
		ru.results = append(ru.results, *specResult)
		if !specResult.Success {
			result.AbortReason = specResult.Error
			result.Success = false
			r.finishIssue(ru, &result, start)
			_ = r.State.UpdateIssueStatus(iid, phase.StatusBlocked, r.now())
			return result, nil
		}
	}

	maxIter := cfg.MaxIterations
	if !qualityLoop || maxIter < 1 {
		maxIter = 1
	}
	hasQA := containsPhase(phases, phase.QA)

	loopTriggered := false
	success := true
	for iter := 1; iter <= maxIter; iter++ {
		iterFailed := false
		var lastVerdict *phase.Verdict

		for _, p := range phases {
			if r.Shutdown != nil && r.Shutdown.IsStopping() {
				result.AbortReason = "Shutdown in progress"
				iterFailed = true
				break
			}
			pr := r.executePhase(ctx, ru, p, iter)
			if p == phase.QA {
				lastVerdict = pr.Verdict
			}
			if !pr.Success {
				iterFailed = true
				if pr.Error == "Shutdown in progress" {
					result.AbortReason = pr.Error
				}
				break
			}
		}

		qaFavorable := true
		if hasQA && !cfg.DryRun {
			qaFavorable = lastVerdict != nil && lastVerdict.IsFavorable()
		}

		if !iterFailed && qaFavorable {
			success = true
			break
		}
		success = false
		if result.AbortReason != "" || !qualityLoop || iter == maxIter {
			break
		}
		loopTriggered = true
		r.executePhase(ctx, ru, phase.Loop, iter)
	}

	result.PhaseResults = ru.results
	result.LoopTriggered = loopTriggered
	result.Success = success && result.AbortReason == ""

	if result.Success {
		r.postQA(ctx, ru, &result)
	} else if result.AbortReason == "" {
		_ = r.State.UpdateIssueStatus(iid, phase.StatusBlocked, r.now())
	}

	r.finishIssue(ru, &result, start)
	return result, nil
}

// finishIssue stamps the result's total duration and commits the run log's
// open issue entry.
func (r *Runner) finishIssue(_ *issueRun, result *phase.IssueResult, start time.Time) {
	result.DurationSeconds = r.now().Sub(start).Seconds()
	r.RunLog.CompleteIssue()
}

// determinePhases resolves the phase sequence for ru per spec.md §4.5/§4.7.
// When autodetection runs the spec phase itself to derive a recommended
// workflow, the spec PhaseResult is returned so the caller logs it exactly
// once rather than re-running it.
func (r *Runner) determinePhases(ctx context.Context, ru *issueRun) (phases []phase.Phase, qualityLoop bool, specResult *phase.PhaseResult) {
	labels := ru.issue.Labels
	qualityLoop = ru.cfg.QualityLoop

	if ru.cfg.AutoDetectPhases {
		switch {
		case phasemap.IsBugFix(labels):
			phases = append([]phase.Phase{}, phasemap.BugFixPhases...)
		case phasemap.IsDocsOnly(labels):
			phases = dropPhase(ru.cfg.Phases, phase.Spec)
		default:
			pr := r.executePhase(ctx, ru, phase.Spec, 0)
			specResult = &pr
			if pr.Success {
				if wf, ql, err := phasemap.ExtractRecommendedWorkflow(pr.Output); err == nil {
					phases = wf
					qualityLoop = ql
				}
			}
			if phases == nil {
				phases = dropPhase(ru.cfg.Phases, phase.Spec)
				if len(phases) == 0 {
					phases = []phase.Phase{phase.Exec, phase.QA}
				}
				phases = phasemap.ApplyUIRule(phases, labels)
				phases = phasemap.InsertSecurityReview(phases, labels)
				qualityLoop = qualityLoop || phasemap.IsComplex(labels)
			}
		}
	} else {
		phases = append([]phase.Phase{}, ru.cfg.Phases...)
		phases = phasemap.ApplyUIRule(phases, labels)
	}

	if ru.cfg.Testgen {
		phases = phasemap.InsertTestgen(phases)
	}

	if ru.cfg.Resume {
		phases = marker.GetResumablePhases(phases, toMarkerComments(ru.issue.Comments))
	}

	return phases, qualityLoop, specResult
}

func dropPhase(phases []phase.Phase, target phase.Phase) []phase.Phase {
	out := make([]phase.Phase, 0, len(phases))
	for _, p := range phases {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

func toMarkerComments(bodies []string) []marker.Comment {
	out := make([]marker.Comment, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, marker.Comment{Body: b})
	}
	return out
}

// executePhase runs one phase for ru: ensuring a worktree if isolated,
// invoking the Phase Executor's retry-wrapped call, and recording the
// outcome into the run log, state store, and phase-marker comment stream.
func (r *Runner) executePhase(ctx context.Context, ru *issueRun, p phase.Phase, iteration int) phase.PhaseResult {
	start := r.now()

	if ru.cfg.DryRun {
		pr := phase.PhaseResult{Phase: p, Success: true}
		ru.results = append(ru.results, pr)
		r.RunLog.LogPhase(phase.PhaseLog{Phase: p, IssueNumber: ru.iid, StartTime: start, EndTime: start, Status: phase.LogSkipped})
		r.recordPhaseState(ru.iid, p, phase.PhaseSkipped, "", iteration, start, start)
		return pr
	}

	workDir := ""
	if p.Isolated() {
		if ru.wt == nil {
			wt, err := r.ensureWorktree(ctx, ru)
			if err != nil {
				pr := phase.PhaseResult{Phase: p, Success: false, Error: fmt.Sprintf("worktree: %v", err)}
				ru.results = append(ru.results, pr)
				r.logFailure(ru.iid, p, start, pr.Error, iteration, 0)
				return pr
			}
			ru.wt = &wt
			_ = r.State.UpdateWorktreeInfo(ru.iid, wt.Path, wt.Branch, r.now())
		}
		workDir = ru.wt.Path
	}
	dirChanged := ru.lastDir != "" && ru.lastDir != workDir
	ru.lastDir = workDir

	phaseCtx, cancel := context.WithTimeout(ctx, time.Duration(ru.cfg.PhaseTimeout)*time.Second)
	defer cancel()
	var release func()
	if r.Shutdown != nil {
		phaseCtx, release = r.Shutdown.Register(phaseCtx)
		defer release()
	}

	if r.Render != nil {
		r.Render.Start(ru.iid, p)
	}

	inv := executor.Invocation{
		Issue:        ru.iid,
		Phase:        p,
		Config:       ru.cfg,
		SessionID:    ru.session,
		DirChanged:   dirChanged,
		WorktreePath: workDir,
		BaseEnv:      r.BaseEnv,
	}
	var sink executor.StreamSink
	if r.Render != nil {
		sink = &renderSink{r: r.Render, issue: ru.iid}
	}

	result, sessionID, retries := r.Executor.ExecutePhaseWithRetry(phaseCtx, inv, sink)
	if sessionID != "" {
		ru.session = sessionID
		_ = r.State.UpdateSessionID(ru.iid, sessionID, r.now())
	}

	if r.Render != nil {
		d := time.Duration(result.DurationSeconds * float64(time.Second))
		if result.Success {
			r.Render.Succeed(ru.iid, p, d)
		} else {
			r.Render.Fail(ru.iid, p, result.Error)
		}
	}

	ru.results = append(ru.results, result)

	logStatus := phase.LogSuccess
	switch {
	case !result.Success && strings.HasPrefix(result.Error, "Timeout after"):
		logStatus = phase.LogTimeout
	case !result.Success:
		logStatus = phase.LogFailure
	}

	end := r.now()
	r.RunLog.LogPhase(phase.PhaseLog{
		Phase:           p,
		IssueNumber:     ru.iid,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: result.DurationSeconds,
		Status:          logStatus,
		Error:           result.Error,
		Verdict:         result.Verdict,
		Retries:         retries,
	})

	psStatus := phase.PhaseCompleted
	if !result.Success {
		psStatus = phase.PhaseFailed
	}
	r.recordPhaseState(ru.iid, p, psStatus, result.Error, iteration, start, end)

	return result
}

func (r *Runner) logFailure(iid int, p phase.Phase, start time.Time, errMsg string, iteration int, retries int) {
	end := r.now()
	r.RunLog.LogPhase(phase.PhaseLog{
		Phase: p, IssueNumber: iid, StartTime: start, EndTime: end,
		DurationSeconds: end.Sub(start).Seconds(), Status: phase.LogFailure, Error: errMsg, Retries: retries,
	})
	r.recordPhaseState(iid, p, phase.PhaseFailed, errMsg, iteration, start, end)
}

// recordPhaseState updates the State Store and posts a phase-marker
// comment. Both are best-effort: spec.md §4.1/§4.8 swallows errors from
// either rather than aborting phase execution.
func (r *Runner) recordPhaseState(iid int, p phase.Phase, status phase.PhaseStatus, errMsg string, iteration int, started, completed time.Time) {
	ps := phase.PhaseState{Status: status, StartedAt: &started, CompletedAt: &completed, Error: errMsg, Iteration: iteration}
	if err := r.State.UpdatePhaseStatus(iid, p, ps, completed); err != nil {
		r.warn(iid, "state update for phase %s failed: %v", p, err)
	}

	m := phase.PhaseMarker{Phase: p, Status: status, Timestamp: completed, Error: errMsg}
	body, err := marker.Format(m)
	if err != nil {
		return
	}
	if err := r.Host.PostComment(context.Background(), iid, body); err != nil {
		r.warn(iid, "posting phase marker for %s failed: %v", p, err)
	}
}

// ensureWorktree resolves the repo root from the process working directory
// and materializes (or reuses) ru's worktree per opts' chain/base-branch
// settings.
func (r *Runner) ensureWorktree(ctx context.Context, ru *issueRun) (phase.Worktree, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return phase.Worktree{}, err
	}
	base := ru.opts.BaseBranch
	if base == "" {
		base = ru.cfg.BaseBranch
	}
	return r.Worktree.EnsureWorktree(ctx, worktree.EnsureRequest{
		Issue:      ru.iid,
		Title:      ru.issue.Title,
		CWD:        cwd,
		BaseBranch: base,
		ChainMode:  ru.opts.ChainMode,
	})
}

// postQA runs the Worktree Manager's pre-submission flow once an issue's
// phases complete with a favorable QA verdict, per spec.md §4.3/§4.5.
func (r *Runner) postQA(ctx context.Context, ru *issueRun, result *phase.IssueResult) {
	if ru.wt == nil || ru.cfg.DryRun {
		_ = r.State.UpdateIssueStatus(ru.iid, phase.StatusReadyForMerge, r.now())
		return
	}

	num, url, warnings, err := r.Worktree.PreSubmit(ctx, worktree.SubmitRequest{
		Worktree:   *ru.wt,
		Title:      ru.issue.Title,
		IssueBody:  ru.issue.Body,
		Labels:     ru.issue.Labels,
		BaseBranch: ru.cfg.BaseBranch,
		ChainMode:  ru.opts.ChainMode,
		IsLastLink: ru.opts.IsLastLink,
		NoRebase:   ru.cfg.NoRebase,
		NoPR:       ru.cfg.NoPR,
	}, r.Host)
	for _, w := range warnings {
		r.warn(ru.iid, "%s", w)
	}
	if err != nil {
		r.warn(ru.iid, "pre-submission flow failed: %v", err)
		_ = r.State.UpdateIssueStatus(ru.iid, phase.StatusReadyForMerge, r.now())
		return
	}
	if num != nil {
		result.PRNumber = num
		result.PRUrl = url
		_ = r.State.UpdatePRInfo(ru.iid, phase.PRInfo{Number: *num, URL: url}, r.now())
	}
	_ = r.State.UpdateIssueStatus(ru.iid, phase.StatusReadyForMerge, r.now())
}
