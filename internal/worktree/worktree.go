// Package worktree implements the Worktree Manager: creating, reusing,
// refreshing, and submitting the isolated per-issue checkouts every
// non-`spec` phase runs inside. Grounded directly on the teacher's
// internal/rpi/worktree.go (CreateWorktree/MergeWorktree/RemoveWorktree,
// the classifyWorktreeError/resolveRemovePaths defensive-path-validation
// idiom, exec.CommandContext with cmd.Dir pinning and timeout wrapping
// throughout), generalized from the teacher's one-shot detached worktree
// per run into one named branch per issue, reused across phases, with
// spec.md's stale-detection and rebase-then-PR flow layered on top.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sequant-dev/sequant/internal/phase"
)

// staleAfterCommits is the "more than five commits behind the base" staleness
// threshold from spec.md §4.3.
const staleAfterCommits = 5

// GitRunner is the seam over the git subprocess, so tests can substitute a
// fake without shelling out. The production implementation is execGit
// below, built the same way as every git invocation in the teacher: a
// timeout-bounded exec.CommandContext pinned to a working directory.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (stdout string, err error)
}

// execGit is the production GitRunner: `git <args...>` run with cmd.Dir set
// to dir and the context's deadline enforced by exec.CommandContext.
type execGit struct{}

func (execGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return string(out), fmt.Errorf("worktree: git %s timed out: %w", strings.Join(args, " "), ctx.Err())
		}
		return string(out), fmt.Errorf("worktree: git %s: %w (output: %s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// slugRegex strips everything but lowercase alphanumerics and hyphens.
var slugRegex = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases title, collapses any run of non-alphanumerics to a single
// hyphen, trims leading/trailing hyphens, and caps the result at 50 runes,
// per GLOSSARY's definition.
func Slug(title string) string {
	s := slugRegex.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = strings.Trim(s[:50], "-")
	}
	if s == "" {
		s = "issue"
	}
	return s
}

// BranchFor returns the feature branch name for an issue, per GLOSSARY.
func BranchFor(issue int, title string) string {
	return fmt.Sprintf("feature/%d-%s", issue, Slug(title))
}

// Manager creates and tends per-issue worktrees. One Manager is constructed
// per run and injected into the Issue Runner/Scheduler — never a
// package-level global.
type Manager struct {
	// Git is the subprocess seam; defaults to execGit.
	Git GitRunner
	// Timeout bounds every individual git invocation.
	Timeout time.Duration
	// EnvFiles are sibling-checkout files copied into a freshly created
	// worktree when present in the main checkout and absent in the
	// worktree (spec.md §4.3 step 5): e.g. ".env", ".claude/settings.local.json".
	EnvFiles []string
	// InstallMarkerDir is the directory whose absence signals that
	// dependencies have never been installed in this worktree (e.g.
	// "node_modules").
	InstallMarkerDir string
	// InstallCmd is the silent dependency-install command run when
	// InstallMarkerDir is absent, e.g. []string{"npm", "ci", "--silent"}.
	InstallCmd []string
	// LockfileNames are checked between ORIG_HEAD..HEAD after a
	// pre-submission rebase to decide whether to reinstall dependencies.
	LockfileNames []string
}

// New constructs a Manager with the given timeout, execGit as the
// subprocess seam, and ".env" plus ".claude/settings.local.json" as the
// sibling-env files to copy.
func New(timeout time.Duration) *Manager {
	return &Manager{Git: execGit{}, Timeout: timeout, EnvFiles: []string{".env", ".claude/settings.local.json"}}
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()
	return m.Git.Run(cctx, dir, args...)
}

// RepoRoot resolves the git repository root containing dir.
func (m *Manager) RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := m.git(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotGitRepo, err)
	}
	return strings.TrimSpace(out), nil
}

// worktreeEntry is one parsed record from `git worktree list --porcelain`.
type worktreeEntry struct {
	path   string
	branch string
}

func parseWorktreeList(out string) []worktreeEntry {
	var entries []worktreeEntry
	var cur worktreeEntry
	flush := func() {
		if cur.path != "" {
			entries = append(entries, cur)
		}
		cur = worktreeEntry{}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			cur.branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "":
			flush()
		}
	}
	flush()
	return entries
}

// ListBranches lists every branch with an active worktree. cmd/sequant wraps
// it in an adapter to satisfy internal/state.WorktreeLister, whose
// ListBranches takes no arguments.
func (m *Manager) ListBranches(ctx context.Context, repoRoot string) ([]string, error) {
	out, err := m.git(ctx, repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var out2 []string
	for _, e := range parseWorktreeList(out) {
		if e.branch != "" {
			out2 = append(out2, e.branch)
		}
	}
	return out2, nil
}

func (m *Manager) findWorktree(ctx context.Context, repoRoot, branch string) (worktreeEntry, bool, error) {
	out, err := m.git(ctx, repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return worktreeEntry{}, false, err
	}
	for _, e := range parseWorktreeList(out) {
		if e.branch == branch {
			return e, true, nil
		}
	}
	return worktreeEntry{}, false, nil
}

func (m *Manager) branchExists(ctx context.Context, repoRoot, branch string) bool {
	_, err := m.git(ctx, repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// MergedBranches lists local branches already merged into base, implementing
// the "feature branch merged into the base" half of startup reconciliation
// (spec.md §4.1, §6: `git branch --merged <base>`).
func (m *Manager) MergedBranches(ctx context.Context, repoRoot, base string) ([]string, error) {
	out, err := m.git(ctx, repoRoot, "branch", "--merged", base)
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		b := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// Freshness describes how far a worktree's branch has drifted from its base
// and whether it is safe to discard.
type Freshness struct {
	CommitsBehind int
	Dirty         bool
	Unpushed      bool
}

// Stale reports whether the worktree is more than staleAfterCommits commits
// behind the base, per spec.md §4.3.
func (f Freshness) Stale() bool { return f.CommitsBehind > staleAfterCommits }

// Safe reports whether a stale worktree may be discarded without losing
// work.
func (f Freshness) Safe() bool { return !f.Dirty && !f.Unpushed }

// CheckFreshness fetches base from origin, computes the merge-base between
// branch and base, counts commits between merge-base and base HEAD, and
// inspects the worktree for uncommitted or unpushed work.
func (m *Manager) CheckFreshness(ctx context.Context, repoRoot, worktreePath, branch, base string) (Freshness, error) {
	if _, err := m.git(ctx, repoRoot, "fetch", "origin", base); err != nil {
		return Freshness{}, err
	}
	mergeBase, err := m.git(ctx, repoRoot, "merge-base", branch, "origin/"+base)
	if err != nil {
		return Freshness{}, err
	}
	countOut, err := m.git(ctx, repoRoot, "rev-list", "--count", strings.TrimSpace(mergeBase)+"..origin/"+base)
	if err != nil {
		return Freshness{}, err
	}
	behind, _ := strconv.Atoi(strings.TrimSpace(countOut))

	statusOut, err := m.git(ctx, worktreePath, "status", "--porcelain")
	if err != nil {
		return Freshness{}, err
	}
	dirty := strings.TrimSpace(statusOut) != ""

	unpushedOut, unpushedErr := m.git(ctx, worktreePath, "rev-list", "--count", "@{u}..HEAD")
	unpushed := false
	if unpushedErr == nil {
		n, _ := strconv.Atoi(strings.TrimSpace(unpushedOut))
		unpushed = n > 0
	}

	return Freshness{CommitsBehind: behind, Dirty: dirty, Unpushed: unpushed}, nil
}

// EnsureRequest bundles EnsureWorktree's inputs.
type EnsureRequest struct {
	Issue      int
	Title      string
	CWD        string
	BaseBranch string
	// ChainMode indicates BaseBranch names a local branch (the previous
	// chain link) rather than a remote-tracked branch, per spec.md §4.3
	// step 3.
	ChainMode bool
}

func worktreePathFor(repoRoot string, issue int) string {
	return filepath.Join(filepath.Dir(repoRoot), filepath.Base(repoRoot)+fmt.Sprintf("-issue-%d", issue))
}

// EnsureWorktree returns a descriptor for a ready-to-use worktree for
// req.Issue, creating or reusing it per spec.md §4.3's algorithm. Idempotent:
// calling it twice in succession for the same issue returns descriptors with
// the same path and branch, the second with Existed=true.
func (m *Manager) EnsureWorktree(ctx context.Context, req EnsureRequest) (phase.Worktree, error) {
	repoRoot, err := m.RepoRoot(ctx, req.CWD)
	if err != nil {
		return phase.Worktree{}, err
	}
	branch := BranchFor(req.Issue, req.Title)

	entry, found, err := m.findWorktree(ctx, repoRoot, branch)
	if err != nil {
		return phase.Worktree{}, err
	}

	if found {
		fresh, ferr := m.CheckFreshness(ctx, repoRoot, entry.path, branch, req.BaseBranch)
		if ferr == nil && fresh.Stale() && fresh.Safe() {
			if _, err := m.git(ctx, repoRoot, "worktree", "remove", entry.path, "--force"); err != nil {
				_ = os.RemoveAll(entry.path)
			}
			_, _ = m.git(ctx, repoRoot, "branch", "-D", branch)
			found = false
		} else {
			// Reuse as-is; operator should be warned by the caller if stale
			// but unsafe to discard.
			return phase.Worktree{Issue: req.Issue, Path: entry.path, Branch: branch, Existed: true}, nil
		}
	}

	baseRef := req.BaseBranch
	if !req.ChainMode {
		if _, err := m.git(ctx, repoRoot, "fetch", "origin", req.BaseBranch); err != nil {
			return phase.Worktree{}, err
		}
		baseRef = "origin/" + req.BaseBranch
	}

	path := worktreePathFor(repoRoot, req.Issue)
	rebased := false
	branchExisted := m.branchExists(ctx, repoRoot, branch)
	if !branchExisted {
		if _, err := m.git(ctx, repoRoot, "worktree", "add", "-b", branch, path, baseRef); err != nil {
			return phase.Worktree{}, err
		}
	} else {
		if _, err := m.git(ctx, repoRoot, "worktree", "add", path, branch); err != nil {
			return phase.Worktree{}, err
		}
		if req.ChainMode {
			if _, err := m.git(ctx, path, "rebase", baseRef); err != nil {
				_, _ = m.git(ctx, path, "rebase", "--abort")
			} else {
				rebased = true
			}
		}
	}

	m.copySiblingFiles(repoRoot, path)
	m.installIfNeeded(ctx, path)

	return phase.Worktree{Issue: req.Issue, Path: path, Branch: branch, Existed: found, Rebased: rebased}, nil
}

// copySiblingFiles copies each configured env file from the main checkout
// into the worktree if present in the source and absent in the
// destination, per spec.md §4.3 step 5.
func (m *Manager) copySiblingFiles(repoRoot, worktreePath string) {
	for _, rel := range m.EnvFiles {
		src := filepath.Join(repoRoot, rel)
		dst := filepath.Join(worktreePath, rel)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			continue
		}
		_ = os.WriteFile(dst, data, 0o644)
	}
}

// installIfNeeded runs the configured install command when the dependency
// marker directory is absent, per spec.md §4.3 step 6.
func (m *Manager) installIfNeeded(ctx context.Context, worktreePath string) {
	if m.InstallMarkerDir == "" || len(m.InstallCmd) == 0 {
		return
	}
	if _, err := os.Stat(filepath.Join(worktreePath, m.InstallMarkerDir)); err == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, m.InstallCmd[0], m.InstallCmd[1:]...)
	cmd.Dir = worktreePath
	_ = cmd.Run()
}

// Exists implements internal/state.WorktreeChecker.
func (m *Manager) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// HostClient is the slice of internal/host's client the pre-submission flow
// needs: creating a PR and recovering from an "already exists" conflict.
// Declared locally so this package never imports internal/host (spec.md §9:
// no cyclic references; State Store and Worktree Manager stay leaves).
type HostClient interface {
	CreatePR(ctx context.Context, branch, title, body string) (number int, url string, err error)
	FindPRByBranch(ctx context.Context, branch string) (number int, url string, found bool, err error)
}

// SubmitRequest bundles the pre-submission flow's inputs.
type SubmitRequest struct {
	Worktree   phase.Worktree
	Title      string
	IssueBody  string
	Labels     []string
	BaseBranch string
	ChainMode  bool
	IsLastLink bool
	NoRebase   bool
	NoPR       bool
}

// bugLabelRegex matches the "fix" PR-title-prefix rule from spec.md §4.3.
var bugLabelRegex = regexp.MustCompile(`(?i)^bug`)

func prTitlePrefix(labels []string) string {
	for _, l := range labels {
		if bugLabelRegex.MatchString(l) {
			return "fix"
		}
	}
	return "feat"
}

// PreSubmit implements spec.md §4.3's pre-submission flow: optional
// checkpoint commit (chain mode), optional rebase onto the remote base,
// lockfile-triggered reinstall, then push + PR creation. Rebase and PR
// failures are warnings, not fatal — callers should log the returned
// warning strings rather than treat them as errors.
func (m *Manager) PreSubmit(ctx context.Context, req SubmitRequest, host HostClient) (prNumber *int, prURL string, warnings []string, err error) {
	path := req.Worktree.Path
	branch := req.Worktree.Branch

	if req.ChainMode {
		statusOut, serr := m.git(ctx, path, "status", "--porcelain")
		if serr == nil && strings.TrimSpace(statusOut) != "" {
			if _, cerr := m.git(ctx, path, "add", "-A"); cerr == nil {
				msg := fmt.Sprintf("checkpoint(#%d): QA passed", req.Worktree.Issue)
				_, _ = m.git(ctx, path, "commit", "-m", msg)
			}
		}
	}

	shouldRebase := !req.NoRebase && (!req.ChainMode || req.IsLastLink)
	if shouldRebase {
		if _, ferr := m.git(ctx, path, "fetch", "origin", req.BaseBranch); ferr == nil {
			if _, rerr := m.git(ctx, path, "rebase", "origin/"+req.BaseBranch); rerr != nil {
				_, _ = m.git(ctx, path, "rebase", "--abort")
				warnings = append(warnings, "rebase onto base failed; manual rebase may be required")
			} else {
				m.reinstallIfLockfileChanged(ctx, path)
			}
		}
	}

	if req.NoPR {
		return nil, "", warnings, nil
	}

	if _, perr := m.git(ctx, path, "push", "-u", "origin", branch); perr != nil {
		warnings = append(warnings, fmt.Sprintf("push failed: %v", perr))
		return nil, "", warnings, nil
	}

	title := fmt.Sprintf("%s(#%d): %s", prTitlePrefix(req.Labels), req.Worktree.Issue, req.Title)
	body := fmt.Sprintf("Resolves #%d.", req.Worktree.Issue)
	number, url, cerr := host.CreatePR(ctx, branch, title, body)
	if cerr != nil {
		if n, u, found, ferr := host.FindPRByBranch(ctx, branch); ferr == nil && found {
			return &n, u, warnings, nil
		}
		warnings = append(warnings, fmt.Sprintf("create PR failed: %v", cerr))
		return nil, "", warnings, nil
	}
	return &number, url, warnings, nil
}

// reinstallIfLockfileChanged checks whether any configured lockfile name
// changed in ORIG_HEAD..HEAD and reinstalls if so, per spec.md §4.3(b).
func (m *Manager) reinstallIfLockfileChanged(ctx context.Context, worktreePath string) {
	if len(m.LockfileNames) == 0 {
		return
	}
	out, err := m.git(ctx, worktreePath, "diff", "--name-only", "ORIG_HEAD..HEAD")
	if err != nil {
		return
	}
	changed := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		changed[strings.TrimSpace(line)] = true
	}
	for _, lf := range m.LockfileNames {
		if changed[lf] {
			m.installIfNeeded(ctx, worktreePath)
			return
		}
	}
}
