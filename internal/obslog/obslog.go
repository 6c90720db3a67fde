// Package obslog constructs the engine's structured operator logger. One
// *zap.Logger is built at startup in cmd/sequant and passed down through
// the Scheduler/Runner/Executor constructors — never held as a package
// level global, matching spec.md §9's "Shared mutable singletons ...
// re-express as explicit values passed through the Scheduler constructor."
// go.uber.org/zap is the only structured-logging library present anywhere
// in the retrieved example pack's dependency graph (pulled in by
// jordigilh-kubernaut and kadirpekel-hector), so it is used here directly
// rather than falling back to log/slog.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for the engine. verbose selects debug-level,
// human-readable console output (matching the CLI's -v/--verbose flag);
// otherwise it builds a production JSON logger suitable for redirection
// into the run log directory's sibling operator log.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.EncoderConfig.TimeKey = "ts"
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return cfg.Build()
}

// Nop returns a no-op logger, used by tests and library callers that do
// not want engine logs on stderr.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Fields converts a loosely-typed key/value list (issue, phase, etc.) into
// zap.Field slices, used at call sites that log the same handful of
// dimensions repeatedly (issue number, phase name, duration).
func Fields(issue int, ph string, extra ...zap.Field) []zap.Field {
	fields := make([]zap.Field, 0, 2+len(extra))
	fields = append(fields, zap.Int("issue", issue))
	if ph != "" {
		fields = append(fields, zap.String("phase", ph))
	}
	return append(fields, extra...)
}
