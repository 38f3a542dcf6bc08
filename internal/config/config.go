package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	Root        string `toml:"root"`
	CacheDir    string `toml:"cache_dir"`
	ScratchDir  string `toml:"scratch_dir"`
	OutputDir   string `toml:"output_dir"`
	LogDir      string `toml:"log_dir"`
	JournalPath string `toml:"journal_path"`
}

// Remote describes where batch deliverables are pulled from.
type Remote struct {
	Kind              string   `toml:"kind"`
	Bucket            string   `toml:"bucket"`
	Profile           string   `toml:"profile"`
	OutboxPrefix      string   `toml:"outbox_prefix"`
	BatchesPrefix     string   `toml:"batches_prefix"`
	BatchNameTemplate string   `toml:"batch_name_template"`
	NormalizeStrip    []string `toml:"normalize_strip"`
}

// Books holds the path templates used to locate a book's directories.
// Templates may reference {partner}, {collection} and {book}.
type Books struct {
	MasterDirTemplate string `toml:"master_dir_template"`
	OCRDirTemplate    string `toml:"ocr_dir_template"`
	AuxDirTemplate    string `toml:"aux_dir_template"`
	BookIDPattern     string `toml:"book_id_pattern"`
}

// PDF contains searchable PDF generation settings.
type PDF struct {
	Variants  map[string]int `toml:"variants"`
	Workers   int            `toml:"workers"`
	Overwrite bool           `toml:"overwrite"`
	KeepPages bool           `toml:"keep_pages"`
	Validate  bool           `toml:"validate"`
}

// Tools contains external tool settings.
type Tools struct {
	TimeoutSeconds int      `toml:"timeout_seconds"`
	MergeOrder     []string `toml:"merge_order"`
	PDFBoxJars     []string `toml:"pdfbox_jars"`
	EnablePDFCPU   bool     `toml:"enable_pdfcpu"`
	Validator      string   `toml:"validator"`
}

// Cache contains batch cache settings.
type Cache struct {
	LockTimeoutSeconds int `toml:"lock_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains configuration for the Prometheus textfile export.
type Metrics struct {
	TextfilePath string `toml:"textfile_path"`
}

// Config encapsulates all configuration values for pagebind.
//
// Configuration sections by subsystem:
//   - Paths: dropbox root, cache, scratch, output and journal locations
//   - Remote: batch store (s3 via aws CLI, or gcs) and name normalization
//   - Books: path templates for master, OCR and aux directories
//   - PDF: DPI variants, worker count and output policy
//   - Tools: external tool timeouts and merge chain order
//   - Cache: batch cache locking
//   - Logging: log format and level
//   - Metrics: Prometheus textfile export
type Config struct {
	Paths   Paths   `toml:"paths"`
	Remote  Remote  `toml:"remote"`
	Books   Books   `toml:"books"`
	PDF     PDF     `toml:"pdf"`
	Tools   Tools   `toml:"tools"`
	Cache   Cache   `toml:"cache"`
	Logging Logging `toml:"logging"`
	Metrics Metrics `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pagebind/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("pagebind.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local working directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.ScratchDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ToolTimeout returns the per-call external tool timeout; zero means none.
func (c *Config) ToolTimeout() time.Duration {
	if c.Tools.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Tools.TimeoutSeconds) * time.Second
}

// LockTimeout returns how long a cache fetch waits for the batch lock.
func (c *Config) LockTimeout() time.Duration {
	if c.Cache.LockTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Cache.LockTimeoutSeconds) * time.Second
}

// Workers returns the page assembly pool size.
func (c *Config) Workers() int {
	if c.PDF.Workers > 0 {
		return c.PDF.Workers
	}
	return DefaultWorkers()
}

// DefaultWorkers is one less than the available parallelism, minimum one.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// Variants returns the configured PDF variants keyed by name, falling back
// to the hi/lo defaults.
func (c *Config) Variants() map[string]int {
	if len(c.PDF.Variants) == 0 {
		return defaultVariantMap()
	}
	return c.PDF.Variants
}

// BatchName expands the batch name template for a batch identifier.
func (c *Config) BatchName(id string) string {
	return strings.ReplaceAll(c.Remote.BatchNameTemplate, "{id}", strings.TrimSpace(id))
}

// BatchDirs returns the outbox and processing directories for a batch.
func (c *Config) BatchDirs(id string) (outbox, processing string) {
	name := c.BatchName(id)
	return filepath.Join(c.Paths.Root, "outbox", name), filepath.Join(c.Paths.Root, "processing", name)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "pagebind", "batches")
	}
	return "~/.cache/pagebind/batches"
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
