package batchcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"pagebind/internal/config"
	"pagebind/internal/fileutil"
	"pagebind/internal/integrity"
	"pagebind/internal/logging"
	"pagebind/internal/remote"
	"pagebind/internal/services"
)

const (
	tmpSuffix      = ".tmp"
	lockSuffix     = ".lock"
	lockRetryDelay = 250 * time.Millisecond
)

// Entry is a verified cached batch.
type Entry struct {
	BatchID  string
	Name     string
	Dir      string
	Manifest integrity.Manifest
	// Built reports whether this fetch populated the cache from the remote.
	Built bool
}

// Manager owns the cache root.
type Manager struct {
	cfg         *config.Config
	root        string
	store       remote.Store
	strip       []string
	lockTimeout time.Duration
	logger      *slog.Logger
	statfs      statfsFunc
	// copyDir copies a verified entry to the caller's directory.
	copyDir     func(src, dst string) error
}

// NewManager builds a cache manager rooted at cfg.Paths.CacheDir.
func NewManager(cfg *config.Config, store remote.Store, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:         cfg,
		root:        strings.TrimSpace(cfg.Paths.CacheDir),
		store:       store,
		strip:       append([]string(nil), cfg.Remote.NormalizeStrip...),
		lockTimeout: cfg.LockTimeout(),
		statfs:      realStatfs,
		copyDir:     copyEntry,
	}
	m.SetLogger(logger)
	return m
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.logger = logging.NewComponentLogger(logger, "batchcache")
}

// Root returns the cache directory.
func (m *Manager) Root() string {
	return m.root
}

// Path returns the cache directory for a batch.
func (m *Manager) Path(batchID string) string {
	return filepath.Join(m.root, m.cfg.BatchName(batchID))
}

// Fetch makes the batch available in destDir. The cached copy is built from
// the remote store on first use and verified on every later use; a cached
// copy that fails verification is an error, never silently rebuilt.
func (m *Manager) Fetch(ctx context.Context, batchID, destDir string) (Entry, error) {
	name, err := m.batchName(batchID)
	if err != nil {
		return Entry{}, err
	}
	ctx = services.WithBatchID(ctx, batchID)
	logger := logging.WithContext(ctx, m.logger)

	unlock, err := m.lock(ctx, name)
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	entry := Entry{BatchID: batchID, Name: name, Dir: filepath.Join(m.root, name)}
	populated, err := dirPopulated(entry.Dir)
	if err != nil {
		return Entry{}, services.Wrap(services.ErrTransient, "batchcache", "inspect", entry.Dir, err)
	}
	if populated {
		logger.Info("batch cache found, verifying", logging.String("cache_dir", entry.Dir))
		manifest, err := integrity.VerifyDir(ctx, entry.Dir)
		if err != nil {
			logging.ErrorWithContext(logger, "cached batch failed verification", "batch_cache_corrupt",
				logging.String("cache_dir", entry.Dir),
				logging.String(logging.FieldErrorHint, "run `pagebind cache drop "+batchID+"` to rebuild from the remote"),
				logging.Error(err),
			)
			return Entry{}, fmt.Errorf("batchcache: verify %s: %w", entry.Dir, err)
		}
		entry.Manifest = manifest
	} else {
		manifest, err := m.build(ctx, batchID, name)
		if err != nil {
			return Entry{}, err
		}
		entry.Manifest = manifest
		entry.Built = true
	}

	if err := m.copyDir(entry.Dir, destDir); err != nil {
		return Entry{}, services.Wrap(services.ErrTransient, "batchcache", "copy", destDir, err)
	}
	if _, err := integrity.VerifyDir(ctx, destDir); err != nil {
		return Entry{}, fmt.Errorf("batchcache: verify copy %s: %w", destDir, err)
	}
	logger.Info("batch ready",
		logging.String("destination", destDir),
		logging.Int("files", entry.Manifest.Len()),
		logging.Int64("bytes", entry.Manifest.TotalSize()),
		logging.Bool("built", entry.Built),
	)
	return entry, nil
}

// build syncs the batch into <name>.tmp, normalizes names, writes the
// manifest, then renames the directory into place.
func (m *Manager) build(ctx context.Context, batchID, name string) (integrity.Manifest, error) {
	logger := logging.WithContext(ctx, m.logger)
	final := filepath.Join(m.root, name)
	tmp := final + tmpSuffix

	if _, err := os.Stat(tmp); err == nil {
		logging.WarnWithContext(logger, "removing stale batch cache temp", "batch_cache_stale_tmp",
			logging.String("cache_dir", tmp),
			logging.String(logging.FieldImpact, "previous fetch did not finish; rebuilding from the remote"),
		)
	}
	if err := os.RemoveAll(tmp); err != nil {
		return integrity.Manifest{}, services.Wrap(services.ErrTransient, "batchcache", "build", "remove stale temp", err)
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return integrity.Manifest{}, services.Wrap(services.ErrTransient, "batchcache", "build", "create temp", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	prefix := remote.BatchPrefix(m.cfg, batchID)
	logger.Info("building batch cache from remote", logging.String("source", m.store.URL(prefix)))
	if err := m.store.Sync(ctx, prefix, tmp); err != nil {
		return integrity.Manifest{}, err
	}
	populated, err := dirPopulated(tmp)
	if err != nil {
		return integrity.Manifest{}, services.Wrap(services.ErrTransient, "batchcache", "build", "inspect temp", err)
	}
	if !populated {
		return integrity.Manifest{}, services.Wrap(services.ErrNotFound, "batchcache", "build",
			"no objects under "+m.store.URL(prefix), nil)
	}
	for _, pattern := range m.strip {
		n, err := fileutil.StripFromNames(tmp, pattern)
		if err != nil {
			return integrity.Manifest{}, services.Wrap(services.ErrValidation, "batchcache", "normalize names", pattern, err)
		}
		if n > 0 {
			logger.Debug("normalized cached names", logging.String("pattern", pattern), logging.Int("renamed", n))
		}
	}
	manifest, err := integrity.Create(ctx, tmp)
	if err != nil {
		return integrity.Manifest{}, err
	}
	if err := os.RemoveAll(final); err != nil {
		return integrity.Manifest{}, services.Wrap(services.ErrTransient, "batchcache", "build", "clear empty cache dir", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return integrity.Manifest{}, services.Wrap(services.ErrTransient, "batchcache", "build", "rename into place", err)
	}
	committed = true
	logger.Info("batch cache built",
		logging.String("cache_dir", final),
		logging.Int("files", manifest.Len()),
	)
	return manifest, nil
}

// Remove deletes a batch's cache entry and any leftover temp directory.
func (m *Manager) Remove(ctx context.Context, batchID string) error {
	name, err := m.batchName(batchID)
	if err != nil {
		return err
	}
	ctx = services.WithBatchID(ctx, batchID)
	unlock, err := m.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	final := filepath.Join(m.root, name)
	if _, err := os.Stat(final); errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrNotFound, "batchcache", "remove", "no cache entry for "+name, nil)
	}
	for _, dir := range []string{final, final + tmpSuffix} {
		if err := os.RemoveAll(dir); err != nil {
			return services.Wrap(services.ErrTransient, "batchcache", "remove", dir, err)
		}
	}
	logging.WithContext(ctx, m.logger).Info("batch cache entry removed", logging.String("cache_dir", final))
	return nil
}

func (m *Manager) batchName(batchID string) (string, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return "", services.Wrap(services.ErrValidation, "batchcache", "fetch", "empty batch id", nil)
	}
	name := m.cfg.BatchName(batchID)
	if !filepath.IsLocal(name) || strings.ContainsRune(name, filepath.Separator) {
		return "", services.Wrap(services.ErrValidation, "batchcache", "fetch", fmt.Sprintf("invalid batch name %q", name), nil)
	}
	return name, nil
}

// lock takes the per-batch lock file, waiting up to the configured timeout.
func (m *Manager) lock(ctx context.Context, name string) (func(), error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, "batchcache", "lock", "create cache root", err)
	}
	lockPath := filepath.Join(m.root, name+lockSuffix)
	fileLock := flock.New(lockPath)

	lockCtx := ctx
	if m.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, m.lockTimeout)
		defer cancel()
	}
	locked, err := fileLock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || err == nil {
			return nil, services.Wrap(services.ErrTimeout, "batchcache", "lock",
				fmt.Sprintf("%s held by another process after %s", lockPath, m.lockTimeout), nil)
		}
		return nil, services.Wrap(services.ErrTransient, "batchcache", "lock", lockPath, err)
	}
	return func() {
		if err := fileLock.Unlock(); err != nil {
			m.logger.Warn("failed to release batch lock",
				logging.String("lock_path", lockPath),
				logging.Error(err),
				logging.String(logging.FieldEventType, "batch_lock_release_failed"),
			)
		}
	}, nil
}

// dirPopulated reports whether dir exists and holds at least one entry.
func dirPopulated(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}

// copyEntry copies the regular files of src, manifests included, into dst.
func copyEntry(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := fileutil.CopyFilePreserve(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return fmt.Errorf("copy %s: %w", entry.Name(), err)
		}
	}
	return nil
}
