// Package phase defines the shared domain types that flow between every
// other package in sequant: the closed Phase set, the per-run configuration
// bundle, phase/issue results, the durable workflow and run-log shapes, the
// phase marker wire type, and the worktree descriptor.
package phase

import "time"

// Phase is a tag drawn from the closed set of pipeline steps. Each phase has
// a prompt template (registered in internal/executor) and an isolation flag
// recorded in phaseInfo below.
type Phase string

const (
	Spec           Phase = "spec"
	SecurityReview Phase = "security-review"
	Testgen        Phase = "testgen"
	Exec           Phase = "exec"
	Test           Phase = "test"
	Verify         Phase = "verify"
	QA             Phase = "qa"
	Loop           Phase = "loop"
	Merger         Phase = "merger"
)

// phaseInfo records per-phase metadata: whether it must run inside the
// issue's worktree rather than the main checkout.
type phaseInfo struct {
	isolated bool
}

// knownPhases is the closed set of recognized phases. An entry here does not
// itself guarantee a registered prompt template exists (see
// internal/executor.PromptFor) — per the Open Question resolution in
// SPEC_FULL.md §9, an unrecognized phase name is a load-time configuration
// error, never a silent skip.
var knownPhases = map[Phase]phaseInfo{
	Spec:           {isolated: false},
	SecurityReview: {isolated: true},
	Testgen:        {isolated: true},
	Exec:           {isolated: true},
	Test:           {isolated: true},
	Verify:         {isolated: true},
	QA:             {isolated: true},
	Loop:           {isolated: true},
	Merger:         {isolated: true},
}

// IsValid reports whether p is one of the closed set of phase tags.
func (p Phase) IsValid() bool {
	_, ok := knownPhases[p]
	return ok
}

// Isolated reports whether p must execute inside the issue's worktree. It
// panics on an unrecognized phase; callers must validate with ParsePhase
// first.
func (p Phase) Isolated() bool {
	info, ok := knownPhases[p]
	if !ok {
		panic("phase: Isolated called on unrecognized phase " + string(p))
	}
	return info.isolated
}

// ParsePhase validates a phase tag against the closed set, returning
// ErrUnknownPhase if it is not recognized.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.IsValid() {
		return "", ErrUnknownPhase
	}
	return p, nil
}

// Verdict is the four-valued outcome parsed from a QA phase's textual
// output.
type Verdict string

const (
	VerdictReadyForMerge     Verdict = "READY_FOR_MERGE"
	VerdictACMetNotAPlus     Verdict = "AC_MET_BUT_NOT_A_PLUS"
	VerdictACNotMet          Verdict = "AC_NOT_MET"
	VerdictNeedsVerification Verdict = "NEEDS_VERIFICATION"
)

// IsFavorable reports whether v allows the issue to proceed to submission.
func (v Verdict) IsFavorable() bool {
	return v == VerdictReadyForMerge || v == VerdictNeedsVerification
}

// ExecutionConfig is the immutable per-run configuration bundle resolved by
// internal/config before the Scheduler starts.
type ExecutionConfig struct {
	Phases           []Phase `json:"phases" validate:"required,min=1,dive,required"`
	PhaseTimeout     int     `json:"phaseTimeout" validate:"min=1"`
	QualityLoop      bool    `json:"qualityLoop"`
	MaxIterations    int     `json:"maxIterations" validate:"min=0"`
	Sequential       bool    `json:"sequential"`
	ForceParallel    bool    `json:"forceParallel"`
	Chain            bool    `json:"chain"`
	QAGate           bool    `json:"qaGate"`
	SkipVerification bool    `json:"skipVerification"`
	NoSmartTests     bool    `json:"noSmartTests"`
	DryRun           bool    `json:"dryRun"`
	Verbose          bool    `json:"verbose"`
	MCP              bool    `json:"mcp"`
	Retry            bool    `json:"retry"`
	BaseBranch       string  `json:"baseBranch" validate:"required"`
	Resume           bool    `json:"resume"`
	NoRebase         bool    `json:"noRebase"`
	NoPR             bool    `json:"noPr"`
	Force            bool    `json:"force"`
	AutoDetectPhases bool    `json:"autoDetectPhases"`
	Testgen          bool    `json:"testgen"`
}

// DefaultExecutionConfig returns the built-in default bundle, matching the
// defaults spec.md §3/§6 enumerate.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Phases:        []Phase{Spec, Exec, QA},
		PhaseTimeout:  1800,
		MaxIterations: 3,
		MCP:           true,
		Retry:         true,
		BaseBranch:    "main",
	}
}

// PhaseResult is the outcome of one agent invocation for one (issue, phase).
type PhaseResult struct {
	Phase           Phase    `json:"phase"`
	Success         bool     `json:"success"`
	DurationSeconds float64  `json:"durationSeconds"`
	Error           string   `json:"error,omitempty"`
	Output          string   `json:"output,omitempty"`
	Verdict         *Verdict `json:"verdict,omitempty"`
	SessionID       string   `json:"sessionId,omitempty"`
}

// IssueResult is the end-to-end outcome of running one issue through its
// phase pipeline.
type IssueResult struct {
	IssueNumber     int           `json:"issueNumber"`
	Success         bool          `json:"success"`
	PhaseResults    []PhaseResult `json:"phaseResults"`
	LoopTriggered   bool          `json:"loopTriggered"`
	DurationSeconds float64       `json:"durationSeconds"`
	PRNumber        *int          `json:"prNumber,omitempty"`
	PRUrl           string        `json:"prUrl,omitempty"`
	AbortReason     string        `json:"abortReason,omitempty"`
}

// PhaseStatus is the lifecycle status of a single phase within an
// IssueState.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
)

// PhaseState records one phase's progress within an issue's durable state.
type PhaseState struct {
	Status      PhaseStatus `json:"status"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
	Iteration   int         `json:"iteration,omitempty"`
}

// IssueStatus is the overall lifecycle status of a tracked issue.
type IssueStatus string

const (
	StatusNotStarted      IssueStatus = "not_started"
	StatusInProgress      IssueStatus = "in_progress"
	StatusWaitingForGate  IssueStatus = "waiting_for_qa_gate"
	StatusReadyForMerge   IssueStatus = "ready_for_merge"
	StatusMerged          IssueStatus = "merged"
	StatusBlocked         IssueStatus = "blocked"
	StatusAbandoned       IssueStatus = "abandoned"
)

// PRInfo is the minimal pull-request reference tracked on an IssueState.
type PRInfo struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// LoopInfo tracks quality-loop configuration and progress for an issue.
type LoopInfo struct {
	Enabled       bool `json:"enabled"`
	Iteration     int  `json:"iteration"`
	MaxIterations int  `json:"maxIterations"`
}

// IssueState is the durable, per-issue record held inside WorkflowState.
type IssueState struct {
	Number       int                   `json:"number"`
	Title        string                `json:"title"`
	Status       IssueStatus           `json:"status"`
	Worktree     string                `json:"worktree,omitempty"`
	Branch       string                `json:"branch,omitempty"`
	CurrentPhase Phase                 `json:"currentPhase,omitempty"`
	Phases       map[Phase]PhaseState  `json:"phases"`
	PR           *PRInfo               `json:"pr,omitempty"`
	Loop         *LoopInfo             `json:"loop,omitempty"`
	SessionID    string                `json:"sessionId,omitempty"`
	DependsOn    []int                 `json:"dependsOn,omitempty"`
	LastActivity time.Time             `json:"lastActivity"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// WorkflowState is the top-level durable state persisted by internal/state.
type WorkflowState struct {
	Version     int                `json:"version" validate:"eq=1"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Issues      map[int]IssueState `json:"issues"`
}

// PhaseLogStatus is the outcome recorded for one phase inside a run log.
type PhaseLogStatus string

const (
	LogSuccess PhaseLogStatus = "success"
	LogFailure PhaseLogStatus = "failure"
	LogTimeout PhaseLogStatus = "timeout"
	LogSkipped PhaseLogStatus = "skipped"
)

// PhaseLog is one phase's durable record inside a RunLog's IssueLog.
type PhaseLog struct {
	Phase           Phase          `json:"phase"`
	IssueNumber     int            `json:"issueNumber"`
	StartTime       time.Time      `json:"startTime"`
	EndTime         time.Time      `json:"endTime"`
	DurationSeconds float64        `json:"durationSeconds"`
	Status          PhaseLogStatus `json:"status"`
	Error           string         `json:"error,omitempty"`
	Iterations      int            `json:"iterations,omitempty"`
	FilesModified   []string       `json:"filesModified,omitempty"`
	FileDiffStats   string         `json:"fileDiffStats,omitempty"`
	CommitHash      string         `json:"commitHash,omitempty"`
	CacheMetrics    map[string]any `json:"cacheMetrics,omitempty"`
	Verdict         *Verdict       `json:"verdict,omitempty"`

	// Retries records how many cold-start/MCP-fallback attempts preceded
	// this logged outcome (0 if none). Added per SPEC_FULL.md §3/§9 Open
	// Question 2 — cold-start retries are otherwise invisible in the log.
	Retries int `json:"retries,omitempty"`
}

// IssueLogStatus is the rolling status of an issue within an open run log.
type IssueLogStatus string

const (
	IssueLogSuccess IssueLogStatus = "success"
	IssueLogFailure IssueLogStatus = "failure"
	IssueLogPartial IssueLogStatus = "partial"
)

// IssueLog is one issue's durable record inside a RunLog.
type IssueLog struct {
	IssueNumber     int            `json:"issueNumber"`
	Title           string         `json:"title"`
	Labels          []string       `json:"labels"`
	Status          IssueLogStatus `json:"status"`
	Phases          []PhaseLog     `json:"phases"`
	TotalDuration   float64        `json:"totalDurationSeconds"`
}

// RunSummary aggregates outcomes across every issue in a RunLog.
type RunSummary struct {
	TotalIssues         int     `json:"totalIssues"`
	Passed              int     `json:"passed"`
	Failed              int     `json:"failed"`
	// Partial counts issues whose rolling status is neither success nor
	// failure (timeout/shutdown-interrupted). Added so invariant 4
	// (passed+failed <= totalIssues) is checkable without recomputation.
	Partial             int     `json:"partial"`
	TotalDurationSeconds float64 `json:"totalDurationSeconds"`
}

// RunLog is the structured durable record of one invocation of `run`.
type RunLog struct {
	Version   int             `json:"version" validate:"eq=1"`
	RunID     string          `json:"runId" validate:"required"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
	Config    ExecutionConfig `json:"config"`
	Issues    []IssueLog      `json:"issues"`
	Summary   RunSummary      `json:"summary"`
}

// PhaseMarker is the structured sentinel embedded into an issue comment body
// by internal/marker, used to communicate phase completion across
// invocations.
type PhaseMarker struct {
	Phase     Phase       `json:"phase"`
	Status    PhaseStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	PR        *PRInfo     `json:"pr,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Worktree is the descriptor returned by internal/worktree.Manager for a
// ready-to-use isolated checkout.
type Worktree struct {
	Issue   int    `json:"issue"`
	Path    string `json:"path"`
	Branch  string `json:"branch"`
	Existed bool   `json:"existed"`
	Rebased bool   `json:"rebased"`
}
