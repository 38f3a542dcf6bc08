package preflight

import (
	"context"
	"strings"

	"pagebind/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks a batch run needs. Directories that pagebind
// creates on demand (cache, scratch, output) are checked through their
// nearest existing parent.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Dropbox root", cfg.Paths.Root))
	results = append(results, CheckCreatable("Cache directory", cfg.Paths.CacheDir))
	results = append(results, CheckCreatable("Scratch directory", cfg.Paths.ScratchDir))
	if cfg.Paths.OutputDir != "" {
		results = append(results, CheckCreatable("Output directory", cfg.Paths.OutputDir))
	}
	results = append(results, CheckRemote(cfg.Remote))

	for _, status := range CheckSystemDeps(ctx, cfg) {
		if status.Optional {
			continue
		}
		detail := status.Command
		if !status.Available {
			detail = status.Detail
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Detail: detail})
	}
	return results
}

// Failed returns the names of failed checks.
func Failed(results []Result) []string {
	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r.Name)
		}
	}
	return failed
}

// Summary joins failed checks with their details for an error message.
func Summary(results []Result) string {
	var parts []string
	for _, r := range results {
		if !r.Passed {
			parts = append(parts, r.Name+": "+r.Detail)
		}
	}
	return strings.Join(parts, "; ")
}
