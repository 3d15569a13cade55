package preflight

import (
	"context"
	"fmt"
	"strings"

	"vexport/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Optional bool
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Report directory", cfg.Paths.ReportDir),
		CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, cfg.MinFreeBytes()),
	}
	for _, st := range CheckSystemDeps(ctx, cfg) {
		r := Result{Name: st.Name, Passed: st.Available, Detail: st.Detail, Optional: st.Optional}
		if r.Detail == "" {
			r.Detail = st.Command
		}
		results = append(results, r)
	}
	return results
}

// FirstFailure returns an error naming every required check that failed, or
// nil when all passed.
func FirstFailure(results []Result) error {
	var failed []string
	for _, r := range results {
		if r.Passed || r.Optional {
			continue
		}
		failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("preflight failed: %s", strings.Join(failed, "; "))
}
