package batchcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"pagebind/internal/integrity"
	"pagebind/internal/services"
	"pagebind/internal/testsupport"
)

type fakeStore struct {
	files   map[string]string
	syncs   int
	prefix  string
	syncErr error
}

func (f *fakeStore) Sync(_ context.Context, prefix, localDir string) error {
	f.syncs++
	f.prefix = prefix
	if f.syncErr != nil {
		return f.syncErr
	}
	for name, content := range f.files {
		path := filepath.Join(localDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) Fetch(context.Context, string, string) error { return nil }

func (f *fakeStore) URL(key string) string { return "fake://" + key }

func newManager(t *testing.T, store *fakeStore) *Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	m := NewManager(cfg, store, nil)
	m.statfs = func(string) (uint64, uint64, error) { return 1000, 400, nil }
	return m
}

func batchFiles() map[string]string {
	return map[string]string{
		"nyu_aco000001_lo.zip": "first book",
		"nyu_aco000002.zip":    "second book",
	}
}

func TestFetchBuildsThenReuses(t *testing.T) {
	store := &fakeStore{files: batchFiles()}
	m := newManager(t, store)
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "outbox")

	entry, err := m.Fetch(ctx, "0042", dest)
	if err != nil {
		t.Fatalf("first Fetch: %v", err)
	}
	if !entry.Built || store.syncs != 1 {
		t.Fatalf("expected a build with one sync, built=%v syncs=%d", entry.Built, store.syncs)
	}
	if store.prefix != "outbox/batch0042" {
		t.Fatalf("sync prefix = %q", store.prefix)
	}
	if entry.Dir != m.Path("0042") {
		t.Fatalf("entry dir = %q, want %q", entry.Dir, m.Path("0042"))
	}
	if _, err := os.Stat(entry.Dir + tmpSuffix); !os.IsNotExist(err) {
		t.Fatalf("temp dir should be gone: %v", err)
	}

	want := []string{"CACHEINFO.txt", "CHECKSUMS.txt", "nyu_aco000001.zip", "nyu_aco000002.zip"}
	if got := testsupport.ListNames(t, entry.Dir); !reflect.DeepEqual(got, want) {
		t.Fatalf("cache contents = %v, want %v", got, want)
	}
	if got := testsupport.ListNames(t, dest); !reflect.DeepEqual(got, want) {
		t.Fatalf("destination contents = %v, want %v", got, want)
	}

	second := filepath.Join(t.TempDir(), "outbox2")
	entry, err = m.Fetch(ctx, "0042", second)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if entry.Built || store.syncs != 1 {
		t.Fatalf("second fetch should reuse the cache, built=%v syncs=%d", entry.Built, store.syncs)
	}
	if entry.Manifest.Len() != 2 {
		t.Fatalf("manifest entries = %d", entry.Manifest.Len())
	}
}

func TestFetchFailsClosedOnCorruptCache(t *testing.T) {
	store := &fakeStore{files: batchFiles()}
	m := newManager(t, store)
	ctx := context.Background()

	if _, err := m.Fetch(ctx, "7", filepath.Join(t.TempDir(), "a")); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := os.WriteFile(filepath.Join(m.Path("7"), "nyu_aco000002.zip"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "b")
	_, err := m.Fetch(ctx, "7", dest)
	var verr *integrity.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
	if store.syncs != 1 {
		t.Fatalf("corrupt cache must not be rebuilt, syncs=%d", store.syncs)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("destination should not be populated: %v", statErr)
	}
}

func TestFetchRemovesStaleTemp(t *testing.T) {
	store := &fakeStore{files: batchFiles()}
	m := newManager(t, store)
	stale := m.Path("3") + tmpSuffix
	testsupport.WriteString(t, filepath.Join(stale, "leftover.zip"), "partial")

	if _, err := m.Fetch(context.Background(), "3", filepath.Join(t.TempDir(), "dest")); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.Path("3"), "leftover.zip")); !os.IsNotExist(err) {
		t.Fatalf("stale temp content leaked into cache: %v", err)
	}
}

func TestFetchSyncFailureLeavesNoEntry(t *testing.T) {
	store := &fakeStore{syncErr: services.Wrap(services.ErrExternalTool, "remote", "sync", "boom", nil)}
	m := newManager(t, store)

	_, err := m.Fetch(context.Background(), "5", filepath.Join(t.TempDir(), "dest"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	for _, dir := range []string{m.Path("5"), m.Path("5") + tmpSuffix} {
		if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
			t.Fatalf("%s should not exist: %v", dir, statErr)
		}
	}
}

func TestFetchEmptyRemoteIsNotFound(t *testing.T) {
	m := newManager(t, &fakeStore{})

	_, err := m.Fetch(context.Background(), "9", filepath.Join(t.TempDir(), "dest"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchTimesOutWaitingForLock(t *testing.T) {
	m := newManager(t, &fakeStore{files: batchFiles()})
	m.lockTimeout = 300 * time.Millisecond
	if err := os.MkdirAll(m.Root(), 0o755); err != nil {
		t.Fatal(err)
	}
	holder := flock.New(filepath.Join(m.Root(), "batch11"+lockSuffix))
	if err := holder.Lock(); err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer holder.Unlock()

	_, err := m.Fetch(context.Background(), "11", filepath.Join(t.TempDir(), "dest"))
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestFetchRejectsEmptyBatchID(t *testing.T) {
	m := newManager(t, &fakeStore{})
	if _, err := m.Fetch(context.Background(), "  ", t.TempDir()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListAndRemove(t *testing.T) {
	store := &fakeStore{files: batchFiles()}
	m := newManager(t, store)
	ctx := context.Background()
	if _, err := m.Fetch(ctx, "1", filepath.Join(t.TempDir(), "d")); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	stats, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if stats.Entries != 1 || stats.FreeBytes != 400 || stats.TotalFSBytes != 1000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	summary := stats.Summaries[0]
	if summary.Name != "batch1" || summary.FileCount != 4 || !summary.HasManifest || summary.Incomplete {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if err := m.Remove(ctx, "1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(m.Path("1")); !os.IsNotExist(err) {
		t.Fatalf("entry still present: %v", err)
	}
	if err := m.Remove(ctx, "1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestFetchRejectsCorruptedCopy(t *testing.T) {
	store := &fakeStore{files: batchFiles()}
	m := newManager(t, store)
	m.copyDir = func(src, dst string) error {
		if err := copyEntry(src, dst); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dst, "nyu_aco000001.zip"), []byte("truncated"), 0o644)
	}

	_, err := m.Fetch(context.Background(), "0009", filepath.Join(t.TempDir(), "outbox"))
	var verr *integrity.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if names := verr.Names(integrity.IssueChecksum); !reflect.DeepEqual(names, []string{"nyu_aco000001.zip"}) {
		t.Fatalf("issues = %+v", verr.Issues)
	}
	if _, err := integrity.VerifyDir(context.Background(), m.Path("0009")); err != nil {
		t.Fatalf("cache entry should stay intact: %v", err)
	}
}
