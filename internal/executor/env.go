package executor

import (
	"fmt"
	"strconv"
)

// EnvParams bundles the values BuildEnv needs to construct the subprocess
// environment for one invocation.
type EnvParams struct {
	BaseEnv      []string
	BaseBranch   string
	SmartTests   bool
	Isolated     bool
	WorktreePath string
	IssueNumber  int
}

// BuildEnv produces a fresh environment slice for one agent invocation,
// per spec.md §4.4/§6: the resolved base branch, a smart-tests toggle, and
// — for isolated phases — the active worktree path, issue number, and an
// orchestrator marker so the agent can detect it is driven by the engine.
// The parent process's own environment is never mutated; BuildEnv always
// returns a new slice.
func BuildEnv(p EnvParams) []string {
	env := make([]string, 0, len(p.BaseEnv)+5)
	env = append(env, p.BaseEnv...)
	env = append(env,
		fmt.Sprintf("SEQUANT_BASE_BRANCH=%s", p.BaseBranch),
		fmt.Sprintf("SEQUANT_SMART_TESTS=%s", strconv.FormatBool(p.SmartTests)),
		"SEQUANT_ORCHESTRATOR=1",
	)
	if p.Isolated {
		env = append(env,
			fmt.Sprintf("SEQUANT_WORKTREE=%s", p.WorktreePath),
			fmt.Sprintf("SEQUANT_ISSUE=%d", p.IssueNumber),
		)
	}
	return env
}
