package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sequant-dev/sequant/internal/phase"
)

func ptr[T any](v T) *T { return &v }

func TestResolveDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := Resolve(dir, Flags{})

	if cfg.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want %q", cfg.BaseBranch, "main")
	}
	if cfg.PhaseTimeout != 1800 {
		t.Errorf("PhaseTimeout = %d, want 1800", cfg.PhaseTimeout)
	}
	if !cfg.MCP {
		t.Error("MCP default = false, want true")
	}
	if !cfg.AutoDetectPhases {
		t.Error("AutoDetectPhases default = false, want true")
	}
}

func TestResolveSettingsFileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{"run":{"defaultBase":"develop","timeout":600,"qualityLoop":true}}`)

	cfg := Resolve(dir, Flags{})
	if cfg.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q, want %q", cfg.BaseBranch, "develop")
	}
	if cfg.PhaseTimeout != 600 {
		t.Errorf("PhaseTimeout = %d, want 600", cfg.PhaseTimeout)
	}
	if !cfg.QualityLoop {
		t.Error("QualityLoop = false, want true")
	}
}

func TestResolveMalformedSettingsFallsBackSilently(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{not json`)

	cfg := Resolve(dir, Flags{})
	if cfg.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want default %q after malformed settings", cfg.BaseBranch, "main")
	}
}

func TestResolveEnvOverridesSettings(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{"run":{"defaultBase":"develop"}}`)
	t.Setenv("PHASE_TIMEOUT", "42")

	cfg := Resolve(dir, Flags{})
	if cfg.PhaseTimeout != 42 {
		t.Errorf("PhaseTimeout = %d, want 42", cfg.PhaseTimeout)
	}
	if cfg.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q, want %q (settings not clobbered by env)", cfg.BaseBranch, "develop")
	}
}

func TestResolveFlagOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, `{"run":{"defaultBase":"develop"}}`)
	t.Setenv("PHASE_TIMEOUT", "42")

	cfg := Resolve(dir, Flags{BaseBranch: ptr("release"), PhaseTimeout: ptr(99)})
	if cfg.BaseBranch != "release" {
		t.Errorf("BaseBranch = %q, want %q", cfg.BaseBranch, "release")
	}
	if cfg.PhaseTimeout != 99 {
		t.Errorf("PhaseTimeout = %d, want 99", cfg.PhaseTimeout)
	}
}

func TestResolveExplicitPhasesDisableAutoDetect(t *testing.T) {
	dir := t.TempDir()
	cfg := Resolve(dir, Flags{Phases: []phase.Phase{phase.Exec, phase.QA}})
	if cfg.AutoDetectPhases {
		t.Error("AutoDetectPhases = true, want false once --phases is explicit")
	}
	if len(cfg.Phases) != 2 {
		t.Errorf("Phases = %v, want [exec qa]", cfg.Phases)
	}
}

func TestValidateRejectsUnknownPhase(t *testing.T) {
	dir := t.TempDir()
	cfg := Resolve(dir, Flags{Phases: []phase.Phase{phase.Exec, "bogus"}})
	if err := Validate(cfg); err == nil {
		t.Error("Validate = nil, want error for unknown phase tag")
	}
}

func TestValidateAcceptsKnownPhases(t *testing.T) {
	dir := t.TempDir()
	cfg := Resolve(dir, Flags{Phases: []phase.Phase{phase.Spec, phase.Exec, phase.QA}})
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate = %v, want nil for known phases", err)
	}
}

func TestResolveRunLogOptionsDefaults(t *testing.T) {
	dir := t.TempDir()
	opts := ResolveRunLogOptions(dir)
	if !opts.Rotation.Enabled {
		t.Error("Rotation.Enabled default = false, want true")
	}
	if opts.Rotation.MaxSizeMB != 10 {
		t.Errorf("Rotation.MaxSizeMB = %v, want 10", opts.Rotation.MaxSizeMB)
	}
}

func writeSettings(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, ".sequant"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, SettingsPath), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}
