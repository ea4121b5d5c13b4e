package preflight

import (
	"context"
	"log/slog"

	"retrievald/internal/config"
	"retrievald/internal/logging"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the startup checks for cfg and the allowlist roots in
// settings. Failed checks are reported, never fatal.
func RunAll(ctx context.Context, cfg *config.Config, settings *config.Settings) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("File store", cfg.Paths.BaseDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckBindAvailable(ctx, cfg.API.Bind),
	}
	if settings != nil {
		for _, root := range settings.Allowlist {
			results = append(results, CheckReadable("Allowlist root", root))
		}
	}
	return results
}

// LogResults writes one line per result: info for passes, a warning with
// context for failures. It returns the number of failures.
func LogResults(logger *slog.Logger, results []Result) int {
	failed := 0
	for _, result := range results {
		if result.Passed {
			logger.Info("preflight check passed",
				logging.String(logging.FieldEventType, "preflight_passed"),
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		failed++
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "fix the path or permission named in detail and restart"),
			logging.String(logging.FieldImpact, "related operations may fail at runtime"),
		)
	}
	return failed
}
