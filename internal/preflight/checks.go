package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"pagebind/internal/config"
	"pagebind/internal/deps"
	"pagebind/internal/remote"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
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

// CheckCreatable passes when path is an accessible directory, or when its
// nearest existing ancestor is one, so MkdirAll will succeed.
func CheckCreatable(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	current := filepath.Clean(path)
	for {
		if _, err := os.Stat(current); err == nil {
			result := CheckDirectoryAccess(name, current)
			if result.Passed && current != filepath.Clean(path) {
				result.Detail = fmt.Sprintf("%s (will be created under %s)", path, current)
			}
			return result
		}
		parent := filepath.Dir(current)
		if parent == current {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: no existing parent)", path)}
		}
		current = parent
	}
}

// CheckRemote validates that the remote store is addressable.
func CheckRemote(cfg config.Remote) Result {
	name := "Remote store"
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return Result{Name: name, Detail: "remote.bucket is not configured"}
	}
	switch cfg.Kind {
	case remote.KindGCS:
		if strings.HasPrefix(bucket, "s3://") {
			return Result{Name: name, Detail: fmt.Sprintf("%s is an s3 URL but remote.kind is gcs", bucket)}
		}
	case remote.KindS3, "":
		if strings.HasPrefix(bucket, "gs://") {
			return Result{Name: name, Detail: fmt.Sprintf("%s is a gcs URL but remote.kind is s3", bucket)}
		}
	}
	kind := cfg.Kind
	if kind == "" {
		kind = remote.KindS3
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", bucket, kind)}
}

// CheckSystemDeps evaluates the external tools for the configured remote.
// Both the batch workflow and the CLI tools command use this so the
// requirements list lives in one place.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	kind := remote.KindS3
	if cfg != nil && cfg.Remote.Kind != "" {
		kind = cfg.Remote.Kind
	}
	return deps.CheckBinaries(deps.PipelineRequirements(kind))
}
