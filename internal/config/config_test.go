package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"pagebind/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved != filepath.Join(tempHome, ".config", "pagebind", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	if cfg.Paths.Root != filepath.Join(tempHome, "dropbox") {
		t.Fatalf("unexpected root: %q", cfg.Paths.Root)
	}
	if cfg.Paths.CacheDir != filepath.Join(tempHome, ".cache", "pagebind", "batches") {
		t.Fatalf("unexpected cache dir: %q", cfg.Paths.CacheDir)
	}
	if cfg.PDF.Variants["hi"] != 200 || cfg.PDF.Variants["lo"] != 96 {
		t.Fatalf("unexpected default variants: %v", cfg.PDF.Variants)
	}
	if got := cfg.Remote.NormalizeStrip; len(got) != 1 || got[0] != "_lo" {
		t.Fatalf("unexpected normalize strip: %v", got)
	}
	if cfg.ToolTimeout() != 600*time.Second {
		t.Fatalf("unexpected tool timeout: %s", cfg.ToolTimeout())
	}
	if cfg.Workers() < 1 {
		t.Fatalf("expected at least one worker, got %d", cfg.Workers())
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "pagebind.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"root":      "~/incoming",
			"cache_dir": "~/cache",
		},
		"remote": map[string]any{
			"kind":           "GCS",
			"bucket":         "deliveries/",
			"normalize_strip": []string{"_lo", " ", "_low"},
		},
		"pdf": map[string]any{
			"workers":  3,
			"variants": map[string]int{"print": 300},
		},
		"tools": map[string]any{
			"timeout_seconds": 0,
			"merge_order":     []string{" PDFTK ", "qpdf"},
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "Debug",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.Root != filepath.Join(tempHome, "incoming") {
		t.Fatalf("unexpected root: %q", cfg.Paths.Root)
	}
	if cfg.Remote.Kind != "gcs" || cfg.Remote.Bucket != "deliveries" {
		t.Fatalf("unexpected remote: %+v", cfg.Remote)
	}
	if got := cfg.Remote.NormalizeStrip; len(got) != 2 || got[1] != "_low" {
		t.Fatalf("unexpected normalize strip: %v", got)
	}
	if cfg.Workers() != 3 {
		t.Fatalf("unexpected workers: %d", cfg.Workers())
	}
	if len(cfg.PDF.Variants) != 1 || cfg.PDF.Variants["print"] != 300 {
		t.Fatalf("expected variants to be replaced, got %v", cfg.PDF.Variants)
	}
	if cfg.ToolTimeout() != 0 {
		t.Fatalf("expected no timeout, got %s", cfg.ToolTimeout())
	}
	if got := cfg.Tools.MergeOrder; len(got) != 2 || got[0] != "pdftk" {
		t.Fatalf("unexpected merge order: %v", got)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "pagebind.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\nstaging_dir = \"/tmp\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"remote kind", func(c *config.Config) { c.Remote.Kind = "ftp" }, "remote.kind"},
		{"batch template", func(c *config.Config) { c.Remote.BatchNameTemplate = "batch" }, "batch_name_template"},
		{"book pattern", func(c *config.Config) { c.Books.BookIDPattern = "([" }, "book_id_pattern"},
		{"placeholder", func(c *config.Config) { c.Books.MasterDirTemplate = "/x/{volume}" }, "{volume}"},
		{"variant dpi", func(c *config.Config) { c.PDF.Variants = map[string]int{"hi": 0} }, "pdf.variants.hi"},
		{"variant name", func(c *config.Config) { c.PDF.Variants = map[string]int{"../x": 10} }, "invalid variant name"},
		{"merge tool", func(c *config.Config) { c.Tools.MergeOrder = []string{"ghostscript"} }, "ghostscript"},
		{"validator", func(c *config.Config) { c.Tools.Validator = "veraPDF" }, "tools.validator"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"lock timeout", func(c *config.Config) { c.Cache.LockTimeoutSeconds = -1 }, "lock_timeout"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestBatchDirs(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Root = "/srv/dropbox"
	outbox, processing := cfg.BatchDirs("0007")
	if outbox != "/srv/dropbox/outbox/batch0007" {
		t.Fatalf("unexpected outbox %q", outbox)
	}
	if processing != "/srv/dropbox/processing/batch0007" {
		t.Fatalf("unexpected processing %q", processing)
	}
}

func TestSampleConfigParses(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Remote.Bucket != "s3://example-bucket" {
		t.Fatalf("unexpected bucket %q", cfg.Remote.Bucket)
	}
}
