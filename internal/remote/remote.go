package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pagebind/internal/config"
	"pagebind/internal/runner"
	"pagebind/internal/services"
)

// Store mirrors remote objects into the local filesystem.
type Store interface {
	// Sync copies every object under prefix into localDir, keeping the
	// relative layout.
	Sync(ctx context.Context, prefix, localDir string) error
	// Fetch downloads the single object key to localFile.
	Fetch(ctx context.Context, key, localFile string) error
	// URL renders a key for logs and error messages.
	URL(key string) string
}

// Kinds understood by New.
const (
	KindS3  = "s3"
	KindGCS = "gcs"
)

// New builds the Store selected by cfg.Remote.Kind. The executor is only used
// by the s3 store.
func New(ctx context.Context, cfg *config.Config, exec runner.Executor, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init", "missing configuration", nil)
	}
	switch cfg.Remote.Kind {
	case KindS3, "":
		return NewS3CLI(exec, cfg.Remote.Bucket, cfg.Remote.Profile, logger), nil
	case KindGCS:
		return NewGCS(ctx, cfg.Remote.Bucket, logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init",
			fmt.Sprintf("unsupported remote kind %q", cfg.Remote.Kind), nil)
	}
}

// BatchPrefix joins the outbox prefix and batch name into an object prefix.
func BatchPrefix(cfg *config.Config, batchID string) string {
	return joinKey(cfg.Remote.OutboxPrefix, cfg.BatchName(batchID))
}

// BatchCSVKey returns the object key of a batch's manifest CSV.
func BatchCSVKey(cfg *config.Config, batchID string) string {
	return joinKey(cfg.Remote.BatchesPrefix, cfg.BatchName(batchID)+".csv")
}

func joinKey(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(strings.TrimSpace(part), "/"); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}
