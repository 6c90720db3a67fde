// Package render implements the terminal renderer: a live spinner when
// attached to a TTY, and a plain append-only line logger otherwise, picked
// by github.com/mattn/go-isatty exactly the way
// hugo-lorenzo-mato-quorum-ai's and AbdelazizMoustafa10m-Raven's TUIs
// detect terminal capability before deciding how to draw. The spinner
// itself is charmbracelet/bubbles' spinner.Model driven by a manual
// ticker rather than a full bubbletea.Program, since this renderer draws
// one line per in-flight issue rather than owning the whole screen.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/sequant-dev/sequant/internal/phase"
)

var (
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444"))
)

// Renderer is the capability set the scheduler and executor drive a run's
// progress display through. Implementations must be safe for concurrent
// use across issues.
type Renderer interface {
	// Start announces that phase has begun for issue.
	Start(issue int, ph phase.Phase)
	// Succeed announces phase completed successfully for issue after d.
	Succeed(issue int, ph phase.Phase, d time.Duration)
	// Fail announces phase failed for issue with msg.
	Fail(issue int, ph phase.Phase, msg string)
	// OnStderr streams one line of raw agent output for issue.
	OnStderr(issue int, line string)
	// PauseForStream suspends spinner animation so raw agent output can be
	// interleaved cleanly (spec.md §4.4/§9's pause-once-at-first-byte
	// protocol); safe to call more than once per phase.
	PauseForStream(issue int)
	// ResumeAfterStream resumes spinner animation after a stream ends.
	ResumeAfterStream(issue int)
	// Close stops any background animation and flushes output.
	Close()
}

// New picks a Spinner renderer when out is a terminal and a Plain renderer
// otherwise, mirroring the isatty-gated drawing-mode switch in the pack's
// TUI examples.
func New(out io.Writer) Renderer {
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return NewSpinner(out)
	}
	return NewPlain(out)
}

// line tracks one issue's current display line.
type line struct {
	issue   int
	ph      phase.Phase
	paused  bool
	done    bool
	started time.Time
}

func (l *line) frameText(frame string) string {
	return fmt.Sprintf("%s issue #%d: %s", frame, l.issue, l.ph)
}

// Spinner is the TTY renderer: one animated line per in-flight issue,
// redrawn on each tick, paused while raw stream output is being printed.
type Spinner struct {
	out    io.Writer
	mu     sync.Mutex
	lines  map[int]*line
	sp     spinner.Model
	stop   chan struct{}
	stopWg sync.WaitGroup
}

// NewSpinner constructs a Spinner renderer writing to out and starts its
// animation goroutine.
func NewSpinner(out io.Writer) *Spinner {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = runningStyle

	s := &Spinner{out: out, lines: map[int]*line{}, sp: sp, stop: make(chan struct{})}
	s.stopWg.Add(1)
	go s.animate()
	return s
}

func (s *Spinner) animate() {
	defer s.stopWg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.sp, _ = s.sp.Update(s.sp.Tick()())
			s.redraw()
			s.mu.Unlock()
		}
	}
}

// redraw must be called with mu held. It reprints every active, unpaused
// line; paused lines are skipped so raw stream output is not clobbered.
func (s *Spinner) redraw() {
	for _, l := range s.lines {
		if l.done || l.paused {
			continue
		}
		fmt.Fprintf(s.out, "\r%s\033[K", l.frameText(s.sp.View()))
	}
}

func (s *Spinner) Start(issue int, ph phase.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[issue] = &line{issue: issue, ph: ph, started: time.Now()}
}

func (s *Spinner) Succeed(issue int, ph phase.Phase, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "\r\033[K%s issue #%d: %s (%.1fs)\n", okStyle.Render("✓"), issue, ph, d.Seconds())
	if l, ok := s.lines[issue]; ok {
		l.done = true
	}
}

func (s *Spinner) Fail(issue int, ph phase.Phase, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "\r\033[K%s issue #%d: %s failed: %s\n", failStyle.Render("✗"), issue, ph, msg)
	if l, ok := s.lines[issue]; ok {
		l.done = true
	}
}

func (s *Spinner) OnStderr(issue int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(s.out, "\r\033[K  [%d] %s\n", issue, ln)
	}
}

func (s *Spinner) PauseForStream(issue int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lines[issue]; ok {
		l.paused = true
	}
}

func (s *Spinner) ResumeAfterStream(issue int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lines[issue]; ok {
		l.paused = false
	}
}

func (s *Spinner) Close() {
	close(s.stop)
	s.stopWg.Wait()
}

// Plain is the non-TTY renderer: one log line per event, no animation or
// cursor control, suitable for CI logs and redirected output.
type Plain struct {
	out io.Writer
	mu  sync.Mutex
}

// NewPlain constructs a Plain renderer writing to out.
func NewPlain(out io.Writer) *Plain {
	return &Plain{out: out}
}

func (p *Plain) Start(issue int, ph phase.Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "issue #%d: %s started\n", issue, ph)
}

func (p *Plain) Succeed(issue int, ph phase.Phase, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "issue #%d: %s succeeded (%.1fs)\n", issue, ph, d.Seconds())
}

func (p *Plain) Fail(issue int, ph phase.Phase, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "issue #%d: %s failed: %s\n", issue, ph, msg)
}

func (p *Plain) OnStderr(issue int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ln := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(p.out, "[%d] %s\n", issue, ln)
	}
}

func (p *Plain) PauseForStream(int)  {}
func (p *Plain) ResumeAfterStream(int) {}
func (p *Plain) Close()              {}
