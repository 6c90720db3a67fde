// Package state implements the State Store: a durable mapping of issue
// number to IssueState, written atomically, with startup reconciliation,
// stale-entry cleanup, untracked-worktree discovery, and rebuild-from-logs
// recovery. Grounded on the teacher's internal/storage/file.go FileStorage
// shape (BaseDir, Init, mutex-guarded writes), generalized from session
// storage to issue-state storage.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/renameio/v2"

	"github.com/sequant-dev/sequant/internal/phase"
)

var validate = validator.New()

// Store holds the state file path and an in-memory cache, replaced with the
// written state on every successful write. One Store per invocation; no internal locking
// beyond the mutex guarding the in-memory cache, since exactly one
// Scheduler writes to it per process (spec.md §4.1, §5).
type Store struct {
	path  string
	mu    sync.Mutex
	cache *phase.WorkflowState
}

// New constructs a Store rooted at path (typically
// <project>/.sequant/state.json).
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the state file, returning an empty (version=1, no issues)
// state if it does not exist. A JSON parse failure is fatal and returned as
// ErrInvalidState, per spec.md §4.1/§7.
func (s *Store) Load() (phase.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (phase.WorkflowState, error) {
	if s.cache != nil {
		return *s.cache, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			empty := phase.WorkflowState{Version: 1, Issues: map[int]phase.IssueState{}}
			return empty, nil
		}
		return phase.WorkflowState{}, fmt.Errorf("state: read: %w", err)
	}
	var ws phase.WorkflowState
	if err := json.Unmarshal(data, &ws); err != nil {
		return phase.WorkflowState{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if ws.Issues == nil {
		ws.Issues = map[int]phase.IssueState{}
	}
	if err := validate.Struct(ws); err != nil {
		return phase.WorkflowState{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	s.cache = &ws
	return ws, nil
}

// Save serializes ws to JSON and writes it atomically (temp file in the
// target directory, fsync, rename into place) via renameio, which already
// implements the durability paragraph spec.md §4.1 describes. lastUpdated
// is bumped to now before writing. On success the in-memory cache is
// replaced with the written state.
func (s *Store) Save(ws phase.WorkflowState, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws.LastUpdated = now
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: create dir: %w", err)
	}
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("state: atomic write: %w", err)
	}
	cached := ws
	s.cache = &cached
	return nil
}

// mutate loads the current state, applies fn, and saves the result. Errors
// from fn are propagated without writing.
func (s *Store) mutate(now time.Time, fn func(*phase.WorkflowState) error) error {
	s.mu.Lock()
	ws, err := s.loadLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := fn(&ws); err != nil {
		return err
	}
	return s.Save(ws, now)
}

// InitializeIssue lazily creates an IssueState if one does not already
// exist, leaving existing entries untouched.
func (s *Store) InitializeIssue(iid int, title string, now time.Time) error {
	return s.mutate(now, func(ws *phase.WorkflowState) error {
		if _, ok := ws.Issues[iid]; ok {
			return nil
		}
		ws.Issues[iid] = phase.IssueState{
			Number:       iid,
			Title:        title,
			Status:       phase.StatusNotStarted,
			Phases:       map[phase.Phase]phase.PhaseState{},
			LastActivity: now,
			CreatedAt:    now,
		}
		return nil
	})
}

// UpdatePhaseStatus records a phase's lifecycle state for an issue.
func (s *Store) UpdatePhaseStatus(iid int, p phase.Phase, ps phase.PhaseState, now time.Time) error {
	return s.mutate(now, func(ws *phase.WorkflowState) error {
		iss, ok := ws.Issues[iid]
		if !ok {
			return ErrIssueNotFound
		}
		if iss.Phases == nil {
			iss.Phases = map[phase.Phase]phase.PhaseState{}
		}
		iss.Phases[p] = ps
		iss.CurrentPhase = p
		iss.LastActivity = now
		ws.Issues[iid] = iss
		return nil
	})
}

// UpdateIssueStatus transitions an issue's overall status.
func (s *Store) UpdateIssueStatus(iid int, status phase.IssueStatus, now time.Time) error {
	return s.mutate(now, func(ws *phase.WorkflowState) error {
		iss, ok := ws.Issues[iid]
		if !ok {
			return ErrIssueNotFound
		}
		iss.Status = status
		iss.LastActivity = now
		ws.Issues[iid] = iss
		return nil
	})
}

// UpdateWorktreeInfo records the worktree path and branch for an issue.
func (s *Store) UpdateWorktreeInfo(iid int, worktreePath, branch string, now time.Time) error {
	return s.mutate(now, func(ws *phase.WorkflowState) error {
		iss, ok := ws.Issues[iid]
		if !ok {
			return ErrIssueNotFound
		}
		iss.Worktree = worktreePath
		iss.Branch = branch
		iss.LastActivity = now
		ws.Issues[iid] = iss
		return nil
	})
}

// UpdateSessionID records the agent session identifier for an issue.
func (s *Store) UpdateSessionID(iid int, sessionID string, now time.Time) error {
	return s.mutate(now, func(ws *phase.WorkflowState) error {
		iss, ok := ws.Issues[iid]
		if !ok {
			return ErrIssueNotFound
		}
		iss.SessionID = sessionID
		iss.LastActivity = now
		ws.Issues[iid] = iss
		return nil
	})
}

// UpdatePRInfo records the PR number/url for an issue.
func (s *Store) UpdatePRInfo(iid int, pr phase.PRInfo, now time.Time) error {
	return s.mutate(now, func(ws *phase.WorkflowState) error {
		iss, ok := ws.Issues[iid]
		if !ok {
			return ErrIssueNotFound
		}
		iss.PR = &pr
		iss.LastActivity = now
		ws.Issues[iid] = iss
		return nil
	})
}

// GetIssueState returns a single issue's state.
func (s *Store) GetIssueState(iid int) (phase.IssueState, bool, error) {
	ws, err := s.Load()
	if err != nil {
		return phase.IssueState{}, false, err
	}
	iss, ok := ws.Issues[iid]
	return iss, ok, nil
}

// GetAllIssueStates returns every tracked issue.
func (s *Store) GetAllIssueStates() (map[int]phase.IssueState, error) {
	ws, err := s.Load()
	if err != nil {
		return nil, err
	}
	return ws.Issues, nil
}

// GetIssuesByStatus returns the IIDs of every issue with the given status,
// sorted ascending.
func (s *Store) GetIssuesByStatus(status phase.IssueStatus) ([]int, error) {
	ws, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []int
	for iid, iss := range ws.Issues {
		if iss.Status == status {
			out = append(out, iid)
		}
	}
	sort.Ints(out)
	return out, nil
}

// RemoveIssue deletes an issue's entry entirely.
func (s *Store) RemoveIssue(iid int, now time.Time) error {
	return s.mutate(now, func(ws *phase.WorkflowState) error {
		delete(ws.Issues, iid)
		return nil
	})
}

// HostFacts is the pre-fetched set of host-side facts the reconciler needs,
// supplied by the caller so the State Store stays a leaf dependency with no
// reference back into internal/host (spec.md §9: no cyclic references).
type HostFacts struct {
	// MergedPRNumbers is the set of PR numbers the host reports as merged.
	MergedPRNumbers map[int]bool
	// MergedFeatureBranches is the set of feature branch names
	// ("feature/<IID>-...") reported merged into the base.
	MergedFeatureBranches map[string]bool
}

// branchMatchesIssue reports whether branch is a feature branch for iid,
// per the "feature/<IID>-*" naming convention.
func branchMatchesIssue(branch string, iid int) bool {
	prefix := fmt.Sprintf("feature/%d-", iid)
	return len(branch) >= len(prefix) && branch[:len(prefix)] == prefix
}

// ReconcileAtStartup advances every ready_for_merge issue to merged if the
// host reports its PR merged, or a matching feature branch is merged into
// the base. It is idempotent: a second call with the same facts advances no
// further issues.
func (s *Store) ReconcileAtStartup(_ context.Context, facts HostFacts, now time.Time) ([]int, error) {
	var advanced []int
	err := s.mutate(now, func(ws *phase.WorkflowState) error {
		for iid, iss := range ws.Issues {
			if iss.Status != phase.StatusReadyForMerge {
				continue
			}
			merged := false
			if iss.PR != nil && facts.MergedPRNumbers[iss.PR.Number] {
				merged = true
			}
			if !merged {
				for branch := range facts.MergedFeatureBranches {
					if branchMatchesIssue(branch, iid) {
						merged = true
						break
					}
				}
			}
			if merged {
				iss.Status = phase.StatusMerged
				iss.LastActivity = now
				ws.Issues[iid] = iss
				advanced = append(advanced, iid)
			}
		}
		return nil
	})
	sort.Ints(advanced)
	return advanced, err
}

// WorktreeChecker reports whether a worktree path still exists on disk,
// injected so the State Store never shells out itself.
type WorktreeChecker interface {
	Exists(path string) bool
}

// CleanupStaleEntries scans tracked issues whose recorded worktree no
// longer exists: if the PR is merged the entry is removed; otherwise it is
// marked abandoned for operator review. maxAgeDays, if positive, also
// removes merged/abandoned entries older than the threshold. dryRun
// previews without mutating.
func (s *Store) CleanupStaleEntries(wc WorktreeChecker, maxAgeDays int, dryRun bool, now time.Time) ([]int, error) {
	ws, err := s.Load()
	if err != nil {
		return nil, err
	}
	var affected []int
	mutated := ws
	mutated.Issues = make(map[int]phase.IssueState, len(ws.Issues))
	for iid, iss := range ws.Issues {
		mutated.Issues[iid] = iss
	}
	for iid, iss := range ws.Issues {
		changed := false
		if iss.Worktree != "" && !wc.Exists(iss.Worktree) {
			if iss.Status == phase.StatusMerged {
				delete(mutated.Issues, iid)
				affected = append(affected, iid)
				continue
			}
			iss.Status = phase.StatusAbandoned
			changed = true
		}
		if maxAgeDays > 0 && (iss.Status == phase.StatusMerged || iss.Status == phase.StatusAbandoned) {
			age := now.Sub(iss.LastActivity)
			if age > time.Duration(maxAgeDays)*24*time.Hour {
				delete(mutated.Issues, iid)
				affected = append(affected, iid)
				continue
			}
		}
		if changed {
			mutated.Issues[iid] = iss
			affected = append(affected, iid)
		}
	}
	sort.Ints(affected)
	if dryRun || len(affected) == 0 {
		return affected, nil
	}
	return affected, s.Save(mutated, now)
}

// WorktreeLister lists every branch with an active worktree, injected so
// discovery never shells out itself.
type WorktreeLister interface {
	ListBranches() ([]string, error)
}

// TitleFetcher fetches an issue's title from the host, used to label
// untracked worktrees discovered on disk.
type TitleFetcher interface {
	Title(iid int) (string, error)
}

// UntrackedWorktree describes a worktree discovered on disk with no
// matching entry in the State Store.
type UntrackedWorktree struct {
	Issue  int
	Branch string
	Title  string
}

// featureBranchIID parses "feature/<IID>-..." and returns the IID, or false
// if branch doesn't match the pattern.
func featureBranchIID(branch string) (int, bool) {
	const prefix = "feature/"
	if len(branch) <= len(prefix) {
		return 0, false
	}
	rest := branch[len(prefix):]
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(rest) || rest[i] != '-' {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(rest[:i], "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// DiscoverUntrackedWorktrees lists every worktree branch via wl, filters to
// "feature/<IID>-*" branches, cross-references the State Store, and returns
// descriptors for branches with no tracked entry.
func (s *Store) DiscoverUntrackedWorktrees(wl WorktreeLister, tf TitleFetcher) ([]UntrackedWorktree, error) {
	branches, err := wl.ListBranches()
	if err != nil {
		return nil, fmt.Errorf("state: list branches: %w", err)
	}
	ws, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []UntrackedWorktree
	for _, b := range branches {
		iid, ok := featureBranchIID(b)
		if !ok {
			continue
		}
		if _, tracked := ws.Issues[iid]; tracked {
			continue
		}
		title := "(untitled)"
		if tf != nil {
			if t, err := tf.Title(iid); err == nil && t != "" {
				title = t
			}
		}
		out = append(out, UntrackedWorktree{Issue: iid, Branch: b, Title: title})
	}
	return out, nil
}

// LogSource supplies RunLogs newest-first for RebuildStateFromLogs.
type LogSource interface {
	NewestFirst() ([]phase.RunLog, error)
}

// phaseLogStatusToPhaseStatus maps a PhaseLog's status onto the
// PhaseState status vocabulary used in durable issue state.
func phaseLogStatusToPhaseStatus(s phase.PhaseLogStatus) phase.PhaseStatus {
	switch s {
	case phase.LogSuccess:
		return phase.PhaseCompleted
	case phase.LogFailure, phase.LogTimeout:
		return phase.PhaseFailed
	case phase.LogSkipped:
		return phase.PhaseSkipped
	default:
		return phase.PhasePending
	}
}

// RebuildStateFromLogs scans RunLogs newest-first and, for each issue,
// recreates an IssueState from only the first (newest) occurrence,
// mapping PhaseLog statuses onto PhaseState statuses. This is an
// operator-invoked recovery path, not run automatically.
func (s *Store) RebuildStateFromLogs(src LogSource, now time.Time) (phase.WorkflowState, error) {
	logs, err := src.NewestFirst()
	if err != nil {
		return phase.WorkflowState{}, fmt.Errorf("state: read logs: %w", err)
	}
	seen := map[int]bool{}
	ws := phase.WorkflowState{Version: 1, Issues: map[int]phase.IssueState{}}
	for _, rl := range logs {
		for _, il := range rl.Issues {
			if seen[il.IssueNumber] {
				continue
			}
			seen[il.IssueNumber] = true
			phases := map[phase.Phase]phase.PhaseState{}
			for _, pl := range il.Phases {
				phases[pl.Phase] = phase.PhaseState{
					Status:      phaseLogStatusToPhaseStatus(pl.Status),
					StartedAt:   &pl.StartTime,
					CompletedAt: &pl.EndTime,
					Error:       pl.Error,
				}
			}
			status := phase.StatusInProgress
			switch il.Status {
			case phase.IssueLogSuccess:
				status = phase.StatusReadyForMerge
			case phase.IssueLogFailure:
				status = phase.StatusBlocked
			}
			ws.Issues[il.IssueNumber] = phase.IssueState{
				Number:       il.IssueNumber,
				Title:        il.Title,
				Status:       status,
				Phases:       phases,
				LastActivity: rl.EndTime,
				CreatedAt:    rl.StartTime,
			}
		}
	}
	if err := s.Save(ws, now); err != nil {
		return phase.WorkflowState{}, err
	}
	return ws, nil
}
