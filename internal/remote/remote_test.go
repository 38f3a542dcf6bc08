package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"pagebind/internal/logging"
	"pagebind/internal/runner"
	"pagebind/internal/services"
	"pagebind/internal/testsupport"
)

type call struct {
	binary string
	args   []string
}

type recordingExecutor struct {
	calls []call
	err   error
}

func (r *recordingExecutor) Run(_ context.Context, binary string, args ...string) (runner.Result, error) {
	r.calls = append(r.calls, call{binary: binary, args: append([]string(nil), args...)})
	return runner.Result{}, r.err
}

func TestS3SyncBuildsCommand(t *testing.T) {
	exec := &recordingExecutor{}
	store := NewS3CLI(exec, "example-bucket/", "partner", nil)
	dir := filepath.Join(t.TempDir(), "tmp")

	if err := store.Sync(context.Background(), "outbox/batch0042", dir); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(exec.calls))
	}
	want := []string{"s3", "sync", "s3://example-bucket/outbox/batch0042/", dir, "--profile", "partner"}
	if exec.calls[0].binary != "aws" || !reflect.DeepEqual(exec.calls[0].args, want) {
		t.Fatalf("unexpected call %s %v", exec.calls[0].binary, exec.calls[0].args)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected local dir to be created: %v", err)
	}
}

func TestS3FetchOmitsEmptyProfile(t *testing.T) {
	exec := &recordingExecutor{}
	store := NewS3CLI(exec, "s3://bucket", "", nil)
	target := filepath.Join(t.TempDir(), "batch7.csv")

	if err := store.Fetch(context.Background(), "batches/batch7.csv", target); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := []string{"s3", "cp", "s3://bucket/batches/batch7.csv", target}
	if !reflect.DeepEqual(exec.calls[0].args, want) {
		t.Fatalf("args = %v, want %v", exec.calls[0].args, want)
	}
}

func TestS3FailureIsExternalTool(t *testing.T) {
	exec := &recordingExecutor{err: &runner.SubprocessError{Binary: "aws", ExitCode: 1, Stderr: "AccessDenied"}}
	store := NewS3CLI(exec, "bucket", "p", nil)

	err := store.Sync(context.Background(), "outbox/batch1", t.TempDir())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "AccessDenied") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestBatchKeys(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Remote.OutboxPrefix = "outbox"
	cfg.Remote.BatchesPrefix = "batches"
	cfg.Remote.BatchNameTemplate = "batch{id}"

	if got := BatchPrefix(cfg, "0042"); got != "outbox/batch0042" {
		t.Fatalf("BatchPrefix = %q", got)
	}
	if got := BatchCSVKey(cfg, "0042"); got != "batches/batch0042.csv" {
		t.Fatalf("BatchCSVKey = %q", got)
	}
	cfg.Remote.OutboxPrefix = ""
	if got := BatchPrefix(cfg, "9"); got != "batch9" {
		t.Fatalf("BatchPrefix without outbox prefix = %q", got)
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Remote.Kind = "ftp"
	if _, err := New(context.Background(), cfg, &recordingExecutor{}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	cfg.Remote.Kind = KindS3
	store, err := New(context.Background(), cfg, &recordingExecutor{}, nil)
	if err != nil {
		t.Fatalf("New s3: %v", err)
	}
	if _, ok := store.(*S3CLI); !ok {
		t.Fatalf("expected *S3CLI, got %T", store)
	}
}

type fakeSource struct {
	objects map[string][]byte
	updated time.Time
	opened  []string
}

func (f *fakeSource) List(_ context.Context, prefix string) ([]objectInfo, error) {
	var out []objectInfo
	for name, data := range f.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, objectInfo{Name: name, Size: int64(len(data)), Updated: f.updated})
		}
	}
	return out, nil
}

func (f *fakeSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	f.opened = append(f.opened, name)
	data, ok := f.objects[name]
	if !ok {
		return nil, errors.New("missing")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newFakeGCS(src *fakeSource) *GCS {
	return &GCS{bucket: "bucket", source: src, logger: logging.NewNop()}
}

func TestGCSSyncMirrorsPrefix(t *testing.T) {
	src := &fakeSource{
		updated: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		objects: map[string][]byte{
			"outbox/batch1/":                  {},
			"outbox/batch1/nyu_aco000001.zip": []byte("zip-one"),
			"outbox/batch1/sub/notes.txt":     []byte("notes"),
			"outbox/batch10/other.zip":        []byte("not mine"),
		},
	}
	store := newFakeGCS(src)
	dir := t.TempDir()

	if err := store.Sync(context.Background(), "outbox/batch1", dir); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "nyu_aco000001.zip"))
	if err != nil || string(data) != "zip-one" {
		t.Fatalf("zip content = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub", "notes.txt")); err != nil {
		t.Fatalf("nested object missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "other.zip")); !os.IsNotExist(err) {
		t.Fatalf("object from sibling prefix should not be synced: %v", err)
	}

	src.opened = nil
	if err := store.Sync(context.Background(), "outbox/batch1", dir); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(src.opened) != 0 {
		t.Fatalf("unchanged objects re-downloaded: %v", src.opened)
	}
}

func TestGCSSyncRejectsEscapingNames(t *testing.T) {
	src := &fakeSource{objects: map[string][]byte{"outbox/b/../../evil": []byte("x")}}
	store := newFakeGCS(src)

	err := store.Sync(context.Background(), "outbox/b", t.TempDir())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGCSFetchMissingObject(t *testing.T) {
	store := newFakeGCS(&fakeSource{objects: map[string][]byte{"batches/batch1.csv.bak": []byte("x")}})

	err := store.Fetch(context.Background(), "batches/batch1.csv", filepath.Join(t.TempDir(), "b.csv"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := store.URL("batches/batch1.csv"); got != "gs://bucket/batches/batch1.csv" {
		t.Fatalf("URL = %q", got)
	}
}
