package preflight

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"vexport/internal/config"
	"vexport/internal/deps"
	"vexport/internal/staging"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least min bytes
// available. A zero minimum only reports the figure.
func CheckFreeSpace(name, path string, min uint64) Result {
	free, err := staging.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	detail := fmt.Sprintf("%d MiB available", free>>20)
	if free < min {
		return Result{Name: name, Detail: fmt.Sprintf("%s, %d MiB required", detail, min>>20)}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps evaluates the external binaries for the given config and
// records their versions.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	reqs := deps.FFmpegRequirements(cfg.Engines.FFmpegBinary, cfg.Engines.FFprobeBinary, cfg.Engines.DraptoEnabled)
	return deps.CheckVersions(ctx, deps.CheckBinaries(reqs))
}
