package remote

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"pagebind/internal/logging"
	"pagebind/internal/runner"
	"pagebind/internal/services"
)

const s3Scheme = "s3://"

// S3CLI drives `aws s3` for bucket access, reusing whatever credentials the
// named profile resolves to.
type S3CLI struct {
	exec    runner.Executor
	bucket  string
	profile string
	logger  *slog.Logger
}

// NewS3CLI builds an S3 store. A bucket without the s3:// scheme gets it.
func NewS3CLI(exec runner.Executor, bucket, profile string, logger *slog.Logger) *S3CLI {
	bucket = strings.TrimRight(strings.TrimSpace(bucket), "/")
	if bucket != "" && !strings.HasPrefix(bucket, s3Scheme) {
		bucket = s3Scheme + bucket
	}
	if exec == nil {
		exec = runner.New()
	}
	return &S3CLI{
		exec:    exec,
		bucket:  bucket,
		profile: strings.TrimSpace(profile),
		logger:  logging.NewComponentLogger(logger, "remote"),
	}
}

// URL renders the s3:// location of key.
func (s *S3CLI) URL(key string) string {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return s.bucket
	}
	return s.bucket + "/" + key
}

// Sync runs `aws s3 sync <bucket>/<prefix>/ <localDir>`.
func (s *S3CLI) Sync(ctx context.Context, prefix, localDir string) error {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "remote", "sync", "create local directory", err)
	}
	source := strings.TrimRight(s.URL(prefix), "/") + "/"
	args := s.withProfile([]string{"s3", "sync", source, localDir})
	if _, err := s.exec.Run(ctx, "aws", args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "remote", "sync", source, err)
	}
	logging.WithContext(ctx, s.logger).Info("remote sync complete",
		logging.String("source", source),
		logging.String("destination", localDir),
	)
	return nil
}

// Fetch runs `aws s3 cp <bucket>/<key> <localFile>`.
func (s *S3CLI) Fetch(ctx context.Context, key, localFile string) error {
	if err := os.MkdirAll(filepath.Dir(localFile), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "remote", "fetch", "create local directory", err)
	}
	source := s.URL(key)
	args := s.withProfile([]string{"s3", "cp", source, localFile})
	if _, err := s.exec.Run(ctx, "aws", args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "remote", "fetch", source, err)
	}
	logging.WithContext(ctx, s.logger).Info("remote object downloaded",
		logging.String("source", source),
		logging.String("destination", localFile),
	)
	return nil
}

func (s *S3CLI) withProfile(args []string) []string {
	if s.profile != "" {
		args = append(args, "--profile", s.profile)
	}
	return args
}
