package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"pagebind/internal/logging"
	"pagebind/internal/services"
)

const gcsScheme = "gs://"

type objectInfo struct {
	Name    string
	Size    int64
	Updated time.Time
}

// objectSource is the slice of a bucket the GCS store needs.
type objectSource interface {
	List(ctx context.Context, prefix string) ([]objectInfo, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

type gcsBucket struct {
	handle *storage.BucketHandle
}

func (b gcsBucket) List(ctx context.Context, prefix string) ([]objectInfo, error) {
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	var objects []objectInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		objects = append(objects, objectInfo{Name: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}
	return objects, nil
}

func (b gcsBucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.handle.Object(name).NewReader(ctx)
}

// GCS reads batches from a Cloud Storage bucket using application default
// credentials.
type GCS struct {
	client *storage.Client
	bucket string
	source objectSource
	logger *slog.Logger
}

// NewGCS opens a storage client for bucket (with or without gs://).
func NewGCS(ctx context.Context, bucket string, logger *slog.Logger) (*GCS, error) {
	name := strings.Trim(strings.TrimPrefix(strings.TrimSpace(bucket), gcsScheme), "/")
	if name == "" {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init", "gcs bucket not configured", nil)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init", "create storage client", err)
	}
	return &GCS{
		client: client,
		bucket: name,
		source: gcsBucket{handle: client.Bucket(name)},
		logger: logging.NewComponentLogger(logger, "remote"),
	}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

// URL renders the gs:// location of key.
func (g *GCS) URL(key string) string {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return gcsScheme + g.bucket
	}
	return gcsScheme + g.bucket + "/" + key
}

// Sync downloads every object under prefix. Objects whose local copy already
// has the same size and modification time are skipped, like `aws s3 sync`.
func (g *GCS) Sync(ctx context.Context, prefix, localDir string) error {
	prefix = strings.Trim(prefix, "/")
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	objects, err := g.source.List(ctx, listPrefix)
	if err != nil {
		return services.Wrap(services.ErrTransient, "remote", "sync", "list "+g.URL(listPrefix), err)
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "remote", "sync", "create local directory", err)
	}
	logger := logging.WithContext(ctx, g.logger)
	var downloaded, skipped int
	for _, obj := range objects {
		if strings.HasSuffix(obj.Name, "/") {
			continue
		}
		rel, err := relativeKey(listPrefix, obj.Name)
		if err != nil {
			return services.Wrap(services.ErrValidation, "remote", "sync", obj.Name, err)
		}
		target := filepath.Join(localDir, rel)
		if upToDate(target, obj) {
			skipped++
			continue
		}
		if err := g.download(ctx, obj, target); err != nil {
			return err
		}
		downloaded++
	}
	logger.Info("remote sync complete",
		logging.String("source", g.URL(listPrefix)),
		logging.String("destination", localDir),
		logging.Int("downloaded", downloaded),
		logging.Int("skipped", skipped),
	)
	return nil
}

// Fetch downloads key to localFile.
func (g *GCS) Fetch(ctx context.Context, key, localFile string) error {
	key = strings.TrimLeft(key, "/")
	objects, err := g.source.List(ctx, key)
	if err != nil {
		return services.Wrap(services.ErrTransient, "remote", "fetch", "list "+g.URL(key), err)
	}
	for _, obj := range objects {
		if obj.Name == key {
			return g.download(ctx, obj, localFile)
		}
	}
	return services.Wrap(services.ErrNotFound, "remote", "fetch", g.URL(key), nil)
}

func (g *GCS) download(ctx context.Context, obj objectInfo, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "remote", "download", "create local directory", err)
	}
	reader, err := g.source.Open(ctx, obj.Name)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return services.Wrap(services.ErrNotFound, "remote", "download", g.URL(obj.Name), err)
		}
		return services.Wrap(services.ErrTransient, "remote", "download", g.URL(obj.Name), err)
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return services.Wrap(services.ErrTransient, "remote", "download", "create temp file", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }
	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		cleanup()
		return services.Wrap(services.ErrTransient, "remote", "download", g.URL(obj.Name), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return services.Wrap(services.ErrTransient, "remote", "download", "sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return services.Wrap(services.ErrTransient, "remote", "download", "close temp file", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		cleanup()
		return services.Wrap(services.ErrTransient, "remote", "download", "rename into place", err)
	}
	if !obj.Updated.IsZero() {
		_ = os.Chtimes(target, obj.Updated, obj.Updated)
	}
	return nil
}

// relativeKey maps an object name below prefix onto a local relative path,
// refusing names that would escape the destination.
func relativeKey(prefix, name string) (string, error) {
	rel := strings.TrimPrefix(name, prefix)
	rel = strings.TrimLeft(rel, "/")
	if rel == "" {
		return "", fmt.Errorf("object %q has no name below prefix", name)
	}
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("object %q escapes the destination directory", name)
	}
	return local, nil
}

func upToDate(target string, obj objectInfo) bool {
	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if info.Size() != obj.Size {
		return false
	}
	return obj.Updated.IsZero() || info.ModTime().Equal(obj.Updated)
}
