// Package config resolves the per-run ExecutionConfig from (highest to
// lowest priority) CLI flags, environment variables, a project-relative
// JSON settings file, and built-in defaults. Grounded on the teacher's
// internal/config/config.go layered Default()/Load()/merge()/applyEnv()/
// Resolve() pattern — generalized from the teacher's YAML project+home
// config pair to a single project-relative **JSON** settings file, since
// spec.md §6 pins the settings format to JSON and does not define a
// home-level settings file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sequant-dev/sequant/internal/phase"
	"github.com/sequant-dev/sequant/internal/runlog"
)

// SettingsPath is the project-relative settings file spec.md §6 names.
const SettingsPath = ".sequant/settings.json"

// RotationSettings mirrors runlog.RotationConfig in the settings file's
// JSON shape.
type RotationSettings struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	MaxSizeMB *float64 `json:"maxSizeMB,omitempty"`
	MaxFiles  *int     `json:"maxFiles,omitempty"`
}

// RunSettings is the `run` object of the settings file.
type RunSettings struct {
	DefaultBase      string           `json:"defaultBase,omitempty"`
	LogJSON          *bool            `json:"logJson,omitempty"`
	LogPath          string           `json:"logPath,omitempty"`
	Rotation         RotationSettings `json:"rotation,omitempty"`
	Timeout          *int             `json:"timeout,omitempty"`
	Sequential       *bool            `json:"sequential,omitempty"`
	QualityLoop      *bool            `json:"qualityLoop,omitempty"`
	MaxIterations    *int             `json:"maxIterations,omitempty"`
	SmartTests       *bool            `json:"smartTests,omitempty"`
	AutoDetectPhases *bool            `json:"autoDetectPhases,omitempty"`
}

// Settings is the full on-disk schema spec.md §6 defines.
type Settings struct {
	ScopeAssessment *bool       `json:"scopeAssessment,omitempty"`
	Run             RunSettings `json:"run,omitempty"`
}

// loadSettings reads and parses the project settings file. A missing or
// malformed file is not an error: the caller falls back to defaults
// silently, per spec.md §7 ("Settings file parse failure: silent fallback
// to defaults").
func loadSettings(projectDir string) *Settings {
	path := filepath.Join(projectDir, SettingsPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

// Flags carries explicit CLI flag values; a nil pointer field means "not
// passed on the command line", distinguishing "unset" from "set to the
// zero value" the way the teacher's flagOverrides merge does for bools.
type Flags struct {
	Phases           []phase.Phase
	PhaseTimeout     *int
	QualityLoop      *bool
	MaxIterations    *int
	Sequential       *bool
	ForceParallel    *bool
	Chain            *bool
	QAGate           *bool
	NoSmartTests     *bool
	DryRun           *bool
	Verbose          *bool
	NoMCP            *bool
	NoRetry          *bool
	BaseBranch       *string
	Resume           *bool
	NoRebase         *bool
	NoPR             *bool
	Force            *bool
	Testgen          *bool
	AutoDetectPhases *bool
}

// envBool parses a truthy environment variable ("1" or "true").
func envBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	return v == "1" || strings.EqualFold(v, "true"), true
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envPhases(key string) ([]phase.Phase, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, false
	}
	var out []phase.Phase
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, phase.Phase(p))
		}
	}
	return out, len(out) > 0
}

// Resolve builds the run's ExecutionConfig following CLI > env > project
// settings > built-in default, reading the settings file from projectDir.
func Resolve(projectDir string, flags Flags) phase.ExecutionConfig {
	cfg := phase.DefaultExecutionConfig()
	cfg.MCP = true
	cfg.Retry = true
	cfg.AutoDetectPhases = true

	if s := loadSettings(projectDir); s != nil {
		applySettings(&cfg, s)
	}
	applyEnv(&cfg)
	applyFlags(&cfg, flags)

	return cfg
}

func applySettings(cfg *phase.ExecutionConfig, s *Settings) {
	if s.Run.DefaultBase != "" {
		cfg.BaseBranch = s.Run.DefaultBase
	}
	if s.Run.Timeout != nil {
		cfg.PhaseTimeout = *s.Run.Timeout
	}
	if s.Run.Sequential != nil {
		cfg.Sequential = *s.Run.Sequential
	}
	if s.Run.QualityLoop != nil {
		cfg.QualityLoop = *s.Run.QualityLoop
	}
	if s.Run.MaxIterations != nil {
		cfg.MaxIterations = *s.Run.MaxIterations
	}
	if s.Run.SmartTests != nil {
		cfg.NoSmartTests = !*s.Run.SmartTests
	}
	if s.Run.AutoDetectPhases != nil {
		cfg.AutoDetectPhases = *s.Run.AutoDetectPhases
	}
}

func applyEnv(cfg *phase.ExecutionConfig) {
	if n, ok := envInt("PHASE_TIMEOUT"); ok {
		cfg.PhaseTimeout = n
	}
	if phases, ok := envPhases("PHASES"); ok {
		cfg.Phases = phases
		cfg.AutoDetectPhases = false
	}
	if b, ok := envBool("SEQUANT_QUALITY_LOOP"); ok {
		cfg.QualityLoop = b
	}
	if n, ok := envInt("SEQUANT_MAX_ITERATIONS"); ok {
		cfg.MaxIterations = n
	}
	if b, ok := envBool("SEQUANT_SMART_TESTS"); ok {
		cfg.NoSmartTests = !b
	}
	if b, ok := envBool("SEQUANT_TESTGEN"); ok {
		cfg.Testgen = b
	}
}

func applyFlags(cfg *phase.ExecutionConfig, f Flags) {
	if len(f.Phases) > 0 {
		cfg.Phases = f.Phases
		cfg.AutoDetectPhases = false
	}
	if f.PhaseTimeout != nil {
		cfg.PhaseTimeout = *f.PhaseTimeout
	}
	if f.QualityLoop != nil {
		cfg.QualityLoop = *f.QualityLoop
	}
	if f.MaxIterations != nil {
		cfg.MaxIterations = *f.MaxIterations
	}
	if f.Sequential != nil {
		cfg.Sequential = *f.Sequential
	}
	if f.ForceParallel != nil {
		cfg.ForceParallel = *f.ForceParallel
	}
	if f.Chain != nil {
		cfg.Chain = *f.Chain
	}
	if f.QAGate != nil {
		cfg.QAGate = *f.QAGate
	}
	if f.NoSmartTests != nil {
		cfg.NoSmartTests = *f.NoSmartTests
	}
	if f.DryRun != nil {
		cfg.DryRun = *f.DryRun
	}
	if f.Verbose != nil {
		cfg.Verbose = *f.Verbose
	}
	if f.NoMCP != nil {
		cfg.MCP = !*f.NoMCP
	}
	if f.NoRetry != nil {
		cfg.Retry = !*f.NoRetry
	}
	if f.BaseBranch != nil {
		cfg.BaseBranch = *f.BaseBranch
	}
	if f.Resume != nil {
		cfg.Resume = *f.Resume
	}
	if f.NoRebase != nil {
		cfg.NoRebase = *f.NoRebase
	}
	if f.NoPR != nil {
		cfg.NoPR = *f.NoPR
	}
	if f.Force != nil {
		cfg.Force = *f.Force
	}
	if f.Testgen != nil {
		cfg.Testgen = *f.Testgen
	}
	if f.AutoDetectPhases != nil {
		cfg.AutoDetectPhases = *f.AutoDetectPhases
	}
}

// Validate runs struct-tag validation over cfg, then checks every resolved
// phase against the closed set, surfacing a malformed *resolved*
// configuration (as opposed to a malformed settings file, which is
// swallowed earlier). An unknown phase tag reaching here came from
// --phases or $PHASES: per the Open Question resolution in SPEC_FULL.md §9,
// that is a load-time configuration error, not a silent skip or a runtime
// panic in Phase.Isolated.
func Validate(cfg phase.ExecutionConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	for _, p := range cfg.Phases {
		if _, err := phase.ParsePhase(string(p)); err != nil {
			return fmt.Errorf("phase %q: %w", p, err)
		}
	}
	return nil
}

// RunLogOptions bundles the logging-related settings Resolve does not fold
// into ExecutionConfig: log directory, JSON mirroring, and rotation.
type RunLogOptions struct {
	LogDir   string
	LogJSON  bool
	Rotation runlog.RotationConfig
}

// ResolveRunLogOptions resolves the logging settings from the project
// settings file, falling back to spec.md §4.2's defaults.
func ResolveRunLogOptions(projectDir string) RunLogOptions {
	opts := RunLogOptions{
		LogDir:   filepath.Join(projectDir, ".sequant", "logs"),
		LogJSON:  true,
		Rotation: runlog.DefaultRotationConfig(),
	}
	s := loadSettings(projectDir)
	if s == nil {
		return opts
	}
	if s.Run.LogPath != "" {
		opts.LogDir = s.Run.LogPath
	}
	if s.Run.LogJSON != nil {
		opts.LogJSON = *s.Run.LogJSON
	}
	if s.Run.Rotation.Enabled != nil {
		opts.Rotation.Enabled = *s.Run.Rotation.Enabled
	}
	if s.Run.Rotation.MaxSizeMB != nil {
		opts.Rotation.MaxSizeMB = *s.Run.Rotation.MaxSizeMB
	}
	if s.Run.Rotation.MaxFiles != nil {
		opts.Rotation.MaxFiles = *s.Run.Rotation.MaxFiles
	}
	return opts
}
