package preflight

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"pagebind/internal/config"
	"pagebind/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCreatableWalksToParent(t *testing.T) {
	base := t.TempDir()
	result := CheckCreatable("cache", filepath.Join(base, "a", "b", "c"))
	if !result.Passed {
		t.Fatalf("expected pass under writable parent, got: %s", result.Detail)
	}

	f := filepath.Join(base, "file")
	testsupport.WriteString(t, f, "x")
	if result := CheckCreatable("cache", filepath.Join(f, "child")); result.Passed {
		t.Fatal("expected failure when nearest parent is a file")
	}
}

func TestCheckRemote(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Remote
		want bool
	}{
		{"s3", config.Remote{Kind: "s3", Bucket: "s3://bucket"}, true},
		{"default kind", config.Remote{Bucket: "s3://bucket"}, true},
		{"gcs", config.Remote{Kind: "gcs", Bucket: "gs://bucket"}, true},
		{"missing bucket", config.Remote{Kind: "s3"}, false},
		{"scheme mismatch", config.Remote{Kind: "gcs", Bucket: "s3://bucket"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckRemote(tc.cfg); got.Passed != tc.want {
				t.Fatalf("CheckRemote(%+v) passed=%v detail=%q", tc.cfg, got.Passed, got.Detail)
			}
		})
	}
}

func TestRunAllReportsMissingTools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.Root, 0o755); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(testsupport.BaseDir(cfg), "bin")
	for _, name := range []string{"aws", "exiftool", "magick", "hocr-pdf"} {
		testsupport.StubBinary(t, bin, name, "exit 0\n")
	}
	testsupport.IsolatePath(t, bin)

	results := RunAll(context.Background(), cfg)
	failed := Failed(results)
	if !slices.Equal(failed, []string{"qpdf"}) {
		t.Fatalf("failed = %v (%s)", failed, Summary(results))
	}
}
