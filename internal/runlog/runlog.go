// Package runlog implements the Run Log Writer: building up one RunLog per
// invocation of `run`, appending structured phase/issue records, finalizing
// to disk, and rotating the log directory by size and count. Grounded on
// the teacher's internal/pool/pool.go directory-stats-and-prune logic and
// internal/storage's JSONL index-append pattern, adapted from an
// append-only candidate pool to a per-run JSON document.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sequant-dev/sequant/internal/phase"
)

// RotationConfig controls post-finalize rotation of the log directory.
type RotationConfig struct {
	Enabled    bool
	MaxSizeMB  float64
	MaxFiles   int
}

// DefaultRotationConfig matches spec.md §4.2's defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{Enabled: true, MaxSizeMB: 10, MaxFiles: 100}
}

// openIssue is the in-progress accumulator for one issue's phases between
// startIssue and completeIssue.
type openIssue struct {
	number int
	title  string
	labels []string
	phases []phase.PhaseLog
	status phase.IssueLogStatus
}

// Writer accumulates one RunLog across a single invocation of `run`. It is
// constructed once per run in cmd/sequant and passed down — never a
// package-level global.
type Writer struct {
	logDir     string
	userMirror string
	rotation   RotationConfig

	log     phase.RunLog
	current *openIssue
}

// New constructs a Writer rooted at logDir, with an optional user-level
// mirror directory (empty string disables mirroring).
func New(logDir, userMirror string, rotation RotationConfig) *Writer {
	return &Writer{logDir: logDir, userMirror: userMirror, rotation: rotation}
}

// Initialize creates an empty RunLog with a fresh UUID and the current
// start time.
func (w *Writer) Initialize(config phase.ExecutionConfig, now time.Time) {
	w.log = phase.RunLog{
		Version:   1,
		RunID:     uuid.New().String(),
		StartTime: now,
		Config:    config,
	}
	w.current = nil
}

// RunID returns the run's UUID, valid after Initialize.
func (w *Writer) RunID() string { return w.log.RunID }

// StartIssue opens an issue-scoped accumulation context. Any previously
// open issue is auto-completed first (finalize's auto-complete behavior
// applies per-issue as well, so a Writer is safe to reuse across issues in
// sequence without an explicit CompleteIssue call in between).
func (w *Writer) StartIssue(iid int, title string, labels []string) {
	if w.current != nil {
		w.CompleteIssue()
	}
	w.current = &openIssue{number: iid, title: title, labels: labels, status: phase.IssueLogSuccess}
}

// LogPhase appends pl to the currently open issue and updates its rolling
// status: failure on any failure PhaseLog, partial (via timeout) unless
// already failure.
func (w *Writer) LogPhase(pl phase.PhaseLog) {
	if w.current == nil {
		return
	}
	w.current.phases = append(w.current.phases, pl)
	switch pl.Status {
	case phase.LogFailure:
		w.current.status = phase.IssueLogFailure
	case phase.LogTimeout:
		if w.current.status != phase.IssueLogFailure {
			w.current.status = phase.IssueLogPartial
		}
	}
}

// CompleteIssue sums durations across the open issue's phases and commits
// it into the RunLog. It is a no-op if no issue is open.
func (w *Writer) CompleteIssue() {
	if w.current == nil {
		return
	}
	var total float64
	for _, p := range w.current.phases {
		total += p.DurationSeconds
	}
	w.log.Issues = append(w.log.Issues, phase.IssueLog{
		IssueNumber:   w.current.number,
		Title:         w.current.title,
		Labels:        w.current.labels,
		Status:        w.current.status,
		Phases:        w.current.phases,
		TotalDuration: total,
	})
	w.current = nil
}

// summarize computes summary counts over the committed issues.
func (w *Writer) summarize(endTime time.Time) phase.RunSummary {
	s := phase.RunSummary{TotalIssues: len(w.log.Issues)}
	for _, iss := range w.log.Issues {
		switch iss.Status {
		case phase.IssueLogSuccess:
			s.Passed++
		case phase.IssueLogFailure:
			s.Failed++
		case phase.IssueLogPartial:
			s.Partial++
		}
		s.TotalDurationSeconds += iss.TotalDuration
	}
	return s
}

// safeName replaces ':' and '.' with '-' so timestamps are filesystem-safe
// across platforms, per spec.md §4.2.
func safeName(t time.Time) string {
	s := t.UTC().Format(time.RFC3339)
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}

// Finalize auto-completes any open issue, computes the summary, writes the
// RunLog to <logDir>/run-<startTimeSafe>-<runId>.json, mirrors it to the
// user-level directory if configured, and triggers rotation. It returns the
// path written.
func (w *Writer) Finalize(now time.Time) (string, error) {
	if w.current != nil {
		w.CompleteIssue()
	}
	w.log.EndTime = now
	w.log.Summary = w.summarize(now)

	data, err := json.MarshalIndent(w.log, "", "  ")
	if err != nil {
		return "", fmt.Errorf("runlog: marshal: %w", err)
	}

	if err := os.MkdirAll(w.logDir, 0o755); err != nil {
		return "", fmt.Errorf("runlog: create log dir: %w", err)
	}
	name := fmt.Sprintf("run-%s-%s.json", safeName(w.log.StartTime), w.log.RunID)
	path := filepath.Join(w.logDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("runlog: write: %w", err)
	}

	if w.userMirror != "" {
		if err := os.MkdirAll(w.userMirror, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(w.userMirror, name), data, 0o644)
		}
	}

	if w.rotation.Enabled {
		if err := Rotate(w.logDir, w.rotation); err != nil {
			return path, fmt.Errorf("runlog: rotate: %w", err)
		}
	}
	return path, nil
}

// DirStats summarizes a log directory's size and file count.
type DirStats struct {
	TotalBytes int64
	FileCount  int
	Oldest     time.Time
	Newest     time.Time
}

// fileEntry pairs a log file's path with its modification time and size,
// used for oldest-first deletion during rotation.
type fileEntry struct {
	path    string
	modTime time.Time
	size    int64
}

// statDir walks dir (non-recursively — run logs are flat files) and
// collects fileEntry records plus aggregate DirStats.
func statDir(dir string) ([]fileEntry, DirStats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, DirStats{}, nil
		}
		return nil, DirStats{}, err
	}
	var files []fileEntry
	var stats DirStats
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fe := fileEntry{path: filepath.Join(dir, e.Name()), modTime: info.ModTime(), size: info.Size()}
		files = append(files, fe)
		stats.TotalBytes += fe.size
		stats.FileCount++
		if stats.Oldest.IsZero() || fe.modTime.Before(stats.Oldest) {
			stats.Oldest = fe.modTime
		}
		if stats.Newest.IsZero() || fe.modTime.After(stats.Newest) {
			stats.Newest = fe.modTime
		}
	}
	return files, stats, nil
}

// Reader reads back the RunLog documents Writer.Finalize wrote to a log
// directory, satisfying internal/state's LogSource for state rebuilding
// after a corrupted or deleted state file.
type Reader struct {
	logDir string
}

// NewReader constructs a Reader rooted at logDir.
func NewReader(logDir string) *Reader {
	return &Reader{logDir: logDir}
}

// NewestFirst parses every run-*.json file in the log directory and
// returns them ordered newest start time first, so RebuildStateFromLogs
// can keep each issue's first (newest) occurrence without re-sorting.
func (r *Reader) NewestFirst() ([]phase.RunLog, error) {
	files, _, err := statDir(r.logDir)
	if err != nil {
		return nil, fmt.Errorf("runlog: stat log dir: %w", err)
	}
	var logs []phase.RunLog
	for _, f := range files {
		if !strings.HasPrefix(filepath.Base(f.path), "run-") || !strings.HasSuffix(f.path, ".json") {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			continue
		}
		var rl phase.RunLog
		if err := json.Unmarshal(data, &rl); err != nil {
			continue
		}
		logs = append(logs, rl)
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].StartTime.After(logs[j].StartTime) })
	return logs, nil
}

// Rotate deletes the oldest files in dir (by modification time, ascending)
// until both the total size and file count are under 90% of cfg's
// thresholds — the 10% buffer prevents thrashing on the very next run.
func Rotate(dir string, cfg RotationConfig) error {
	_, err := rotate(dir, cfg, false)
	return err
}

// PreviewRotation reports which files rotation would delete without
// deleting them, for the manual dry-run command.
func PreviewRotation(dir string, cfg RotationConfig) ([]string, error) {
	return rotate(dir, cfg, true)
}

func rotate(dir string, cfg RotationConfig, dryRun bool) ([]string, error) {
	files, stats, err := statDir(dir)
	if err != nil {
		return nil, fmt.Errorf("runlog: stat log dir: %w", err)
	}

	maxBytes := int64(cfg.MaxSizeMB * 1024 * 1024)
	overSize := stats.TotalBytes > maxBytes
	overCount := cfg.MaxFiles > 0 && stats.FileCount > cfg.MaxFiles
	if !overSize && !overCount {
		return nil, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	targetBytes := int64(float64(maxBytes) * 0.9)
	targetCount := int(float64(cfg.MaxFiles) * 0.9)

	var removed []string
	idx := 0
	for idx < len(files) && (stats.TotalBytes > targetBytes || (cfg.MaxFiles > 0 && stats.FileCount > targetCount)) {
		f := files[idx]
		if !dryRun {
			if err := os.Remove(f.path); err != nil {
				idx++
				continue
			}
		}
		stats.TotalBytes -= f.size
		stats.FileCount--
		removed = append(removed, f.path)
		idx++
	}
	return removed, nil
}
