package preflight

import (
	"context"
	"strings"

	"cvt2bids/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Targets names the directories of a particular run. Empty fields skip
// the matching check.
type Targets struct {
	InputDir  string
	OutputDir string
}

// RunAll executes every preflight check for the given config and targets.
// The converter version probe only runs when the binary was found.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckCreatableDirectory("State directory", cfg.Paths.StateDir))

	if strings.TrimSpace(targets.InputDir) != "" {
		results = append(results, CheckReadableDirectory("Input directory", targets.InputDir))
	}
	if strings.TrimSpace(targets.OutputDir) != "" {
		results = append(results, CheckCreatableDirectory("Output directory", targets.OutputDir))
	}

	converterFound := false
	for _, status := range CheckSystemDeps(cfg) {
		if status.Name == "dcm2bids" && status.Available {
			converterFound = true
		}
		results = append(results, statusResult(status))
	}
	if converterFound {
		results = append(results, CheckConverterVersion(ctx, cfg))
	}

	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result)
		}
	}
	return failed
}
