package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
)

// Options bundles everything the Phase Executor needs to spawn one agent
// invocation, per spec.md §6's description of the consumed subprocess
// boundary.
type Options struct {
	// Prompt is the fully substituted natural-language instruction.
	Prompt string
	// WorkDir is the process working directory: the worktree path for
	// isolated phases, the main checkout otherwise.
	WorkDir string
	// Env is the full environment passed to the subprocess.
	Env []string
	// Resume, if non-empty, asks the agent to continue a prior session.
	Resume string
	// MCPEnabled toggles optional auxiliary services.
	MCPEnabled bool
	// OnStderr is invoked per line of stderr output (verbose streaming).
	OnStderr func(line string)
	// OnProgress is invoked after every parsed stdout event.
	OnProgress func(Progress)
}

// Outcome is what Execute returns: the final parsed Progress plus whether
// the agent reported terminal success.
type Outcome struct {
	Progress  Progress
	Success   bool
	// ErrorMessage carries the result event's reported failure reason,
	// empty on success.
	ErrorMessage string
}

// Agent is the subprocess boundary the Phase Executor consumes. Implemented
// by ClaudeAgent for production use and by a fake in internal/executor's
// tests.
type Agent interface {
	Execute(ctx context.Context, opts Options) (Outcome, error)
}

// ClaudeAgent spawns the `claude` CLI with streaming JSON output, grounded
// on the teacher's stream_events.go/stream_parser.go wire format.
type ClaudeAgent struct {
	// BinPath overrides the resolved binary path; empty uses "claude" from
	// PATH.
	BinPath string
}

// NewClaudeAgent constructs a ClaudeAgent using the given binary path
// ("claude" if empty).
func NewClaudeAgent(binPath string) *ClaudeAgent {
	return &ClaudeAgent{BinPath: binPath}
}

func (c *ClaudeAgent) binary() string {
	if c.BinPath != "" {
		return c.BinPath
	}
	return "claude"
}

// Execute spawns the agent subprocess, streams its stdout through
// ParseStream, and forwards stderr lines to opts.OnStderr. The subprocess
// is interrupted promptly when ctx is canceled (timeout or shutdown).
func (c *ClaudeAgent) Execute(ctx context.Context, opts Options) (Outcome, error) {
	args := []string{"-p", opts.Prompt, "--output-format", "stream-json"}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if !opts.MCPEnabled {
		args = append(args, "--no-mcp")
	}

	cmd := exec.CommandContext(ctx, c.binary(), args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = opts.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("agent: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("agent: start: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if opts.OnStderr != nil {
				opts.OnStderr(scanner.Text())
			}
		}
	}()

	progress, parseErr := ParseStream(stdout, opts.OnProgress)
	<-stderrDone

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return Outcome{Progress: progress}, ctx.Err()
	}
	if parseErr != nil && parseErr != io.EOF {
		return Outcome{Progress: progress}, fmt.Errorf("agent: parse stream: %w", parseErr)
	}

	success := progress.ResultSubtype == ResultSuccess
	errMsg := ""
	if !success {
		errMsg = progress.LastError
		if errMsg == "" && len(progress.ResultErrors) > 0 {
			errMsg = progress.ResultErrors[0]
		}
		if errMsg == "" {
			errMsg = progress.ResultSubtype
		}
	}
	if waitErr != nil && errMsg == "" {
		errMsg = waitErr.Error()
	}

	return Outcome{Progress: progress, Success: success, ErrorMessage: errMsg}, nil
}
