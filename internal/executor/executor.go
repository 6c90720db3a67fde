package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sequant-dev/sequant/internal/agent"
	"github.com/sequant-dev/sequant/internal/phase"
)

// coldStartThreshold is the boundary below which a phase failure is
// considered a subprocess initialization artifact rather than real work,
// per spec.md §4.4/GLOSSARY. 59.9s is retried; 60.0s is not (spec.md §8
// boundary behavior).
const coldStartThreshold = 60 * time.Second

// maxColdStartRetries is the number of cold-start retry attempts before
// falling back to the MCP-disabled retry.
const maxColdStartRetries = 2

// Invocation bundles everything ExecutePhase needs for one (issue, phase)
// call.
type Invocation struct {
	Issue        int
	Phase        phase.Phase
	Config       phase.ExecutionConfig
	SessionID    string
	// DirChanged reports whether the working directory changed since the
	// previous invocation for this issue; when true, session resume is not
	// attempted (spec.md §4.4 session-continuity rule).
	DirChanged   bool
	WorktreePath string
	BaseEnv      []string
}

// StreamSink receives streamed agent output in verbose mode and pause/
// resume signals for a shared renderer, per spec.md §4.4/§9's pause-once-
// at-first-byte protocol.
type StreamSink interface {
	OnStderr(line string)
	PauseForStream()
	ResumeAfterStream()
}

// Executor invokes the agent for one phase and applies the cold-start/MCP-
// fallback retry policy. One Executor is typically shared across all
// issues in a run; per-issue breaker state is keyed internally.
type Executor struct {
	Agent agent.Agent

	mu       sync.Mutex
	breakers map[int]*gobreaker.CircuitBreaker
}

// New constructs an Executor around the given Agent implementation.
func New(a agent.Agent) *Executor {
	return &Executor{Agent: a, breakers: map[int]*gobreaker.CircuitBreaker{}}
}

// breakerFor returns (creating if necessary) the per-issue circuit breaker
// that guards against hammering a persistently cold-starting agent
// subprocess mid-run. It trips after 3 consecutive failures and resets
// after a short cooldown, layered under (never replacing) the literal
// 2-retry/1-fallback ceiling spec.md §4.4 specifies.
func (e *Executor) breakerFor(issue int) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.breakers[issue]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("issue-%d-agent", issue),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	e.breakers[issue] = b
	return b
}

// ExecutePhase invokes the agent once for inv, applies verdict
// post-processing, and returns the PhaseResult plus an optional new
// session id. Callers needing the cold-start/MCP-fallback policy should
// call ExecutePhaseWithRetry instead.
func (e *Executor) ExecutePhase(ctx context.Context, inv Invocation, sink StreamSink) (phase.PhaseResult, string) {
	start := time.Now()

	prompt, err := PromptFor(inv.Phase, inv.Issue)
	if err != nil {
		return phase.PhaseResult{Phase: inv.Phase, Success: false, Error: err.Error()}, ""
	}

	workDir := ""
	isolated := inv.Phase.Isolated()
	if isolated {
		workDir = inv.WorktreePath
	}

	resume := inv.SessionID
	if inv.DirChanged {
		resume = ""
	}

	env := BuildEnv(EnvParams{
		BaseEnv:      inv.BaseEnv,
		BaseBranch:   inv.Config.BaseBranch,
		SmartTests:   !inv.Config.NoSmartTests,
		Isolated:     isolated,
		WorktreePath: inv.WorktreePath,
		IssueNumber:  inv.Issue,
	})

	opts := agent.Options{
		Prompt:     prompt,
		WorkDir:    workDir,
		Env:        env,
		Resume:     resume,
		MCPEnabled: inv.Config.MCP,
	}
	if sink != nil {
		started := false
		opts.OnStderr = func(line string) {
			if !started {
				sink.PauseForStream()
				started = true
			}
			sink.OnStderr(line)
		}
		opts.OnProgress = func(agent.Progress) {
			if !started {
				sink.PauseForStream()
				started = true
			}
		}
		defer func() {
			if started {
				sink.ResumeAfterStream()
			}
		}()
	}

	outcome, runErr := e.Agent.Execute(ctx, opts)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		errMsg := "Shutdown in progress"
		if ctx.Err() == context.DeadlineExceeded {
			errMsg = fmt.Sprintf("Timeout after %ds", int(inv.Config.PhaseTimeout))
		}
		return phase.PhaseResult{Phase: inv.Phase, Success: false, DurationSeconds: elapsed.Seconds(), Error: errMsg}, outcome.Progress.SessionID
	}
	if runErr != nil {
		return phase.PhaseResult{Phase: inv.Phase, Success: false, DurationSeconds: elapsed.Seconds(), Error: runErr.Error()}, ""
	}

	success := outcome.Success
	text := outcome.Progress.TextOutput.String()
	success, verdict, errMsg := ApplyVerdictPolicy(inv.Phase, success, text)

	result := phase.PhaseResult{
		Phase:           inv.Phase,
		Success:         success,
		DurationSeconds: elapsed.Seconds(),
		Output:          text,
		Verdict:         verdict,
		SessionID:       outcome.Progress.SessionID,
	}
	if !success {
		if errMsg != "" {
			result.Error = errMsg
		} else {
			result.Error = outcome.ErrorMessage
		}
	}
	return result, outcome.Progress.SessionID
}

// ExecutePhaseWithRetry wraps ExecutePhase with the cold-start/MCP-fallback
// policy of spec.md §4.4:
//  1. Cold-start retry: if a phase fails in under 60s, retry up to 2 times.
//  2. MCP fallback: if still failing and MCP was enabled, retry once with
//     it disabled; on success, return that result with "MCP cold-start
//     issue detected" appended to its Output; otherwise return the
//     *original* error for better diagnostics.
//
// Retry is a no-op when inv.Config.Retry is false. The returned int (which
// the caller copies into the PhaseLog's Retries field) counts every extra
// attempt made after the first, cold-start retries and the MCP fallback
// attempt alike.
func (e *Executor) ExecutePhaseWithRetry(ctx context.Context, inv Invocation, sink StreamSink) (phase.PhaseResult, string, int) {
	result, sessionID := e.ExecutePhase(ctx, inv, sink)
	if result.Success || !inv.Config.Retry {
		return result, sessionID, 0
	}

	firstDuration := time.Duration(result.DurationSeconds * float64(time.Second))
	if firstDuration >= coldStartThreshold {
		return result, sessionID, 0
	}

	breaker := e.breakerFor(inv.Issue)
	retries := 0
	original := result
	for retries < maxColdStartRetries {
		if ctx.Err() != nil {
			break
		}
		_, breakerErr := breaker.Execute(func() (any, error) {
			r, sid := e.ExecutePhase(ctx, inv, sink)
			result, sessionID = r, sid
			retries++
			if !r.Success {
				return nil, fmt.Errorf("cold-start attempt failed: %s", r.Error)
			}
			return nil, nil
		})
		if result.Success {
			return result, sessionID, retries
		}
		if breakerErr == gobreaker.ErrOpenState {
			break
		}
		d := time.Duration(result.DurationSeconds * float64(time.Second))
		if d >= coldStartThreshold {
			break
		}
	}

	if result.Success {
		return result, sessionID, retries
	}

	// MCP fallback.
	if inv.Config.MCP {
		fallbackInv := inv
		fallbackInv.Config.MCP = false
		fallbackResult, fallbackSessionID := e.ExecutePhase(ctx, fallbackInv, sink)
		retries++
		if fallbackResult.Success {
			fallbackResult.Output += "\nMCP cold-start issue detected"
			return fallbackResult, fallbackSessionID, retries
		}
	}

	// Report the original error for better diagnostics.
	return original, sessionID, retries
}
