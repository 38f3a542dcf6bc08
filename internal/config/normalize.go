package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRemote()
	c.normalizeTools()
	c.Books.MasterDirTemplate = strings.TrimSpace(c.Books.MasterDirTemplate)
	c.Books.OCRDirTemplate = strings.TrimSpace(c.Books.OCRDirTemplate)
	c.Books.AuxDirTemplate = strings.TrimSpace(c.Books.AuxDirTemplate)
	c.Books.BookIDPattern = strings.TrimSpace(c.Books.BookIDPattern)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.PDF.Variants) == 0 {
		c.PDF.Variants = defaultVariantMap()
	}
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.root", &c.Paths.Root},
		{"paths.cache_dir", &c.Paths.CacheDir},
		{"paths.scratch_dir", &c.Paths.ScratchDir},
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.journal_path", &c.Paths.JournalPath},
		{"metrics.textfile_path", &c.Metrics.TextfilePath},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	for i, jar := range c.Tools.PDFBoxJars {
		expanded, err := expandPath(strings.TrimSpace(jar))
		if err != nil {
			return fmt.Errorf("tools.pdfbox_jars[%d]: %w", i, err)
		}
		c.Tools.PDFBoxJars[i] = expanded
	}
	return nil
}

func (c *Config) normalizeRemote() {
	c.Remote.Kind = strings.ToLower(strings.TrimSpace(c.Remote.Kind))
	c.Remote.Bucket = strings.TrimRight(strings.TrimSpace(c.Remote.Bucket), "/")
	c.Remote.Profile = strings.TrimSpace(c.Remote.Profile)
	if c.Remote.Profile == "" {
		if value, ok := os.LookupEnv("AWS_PROFILE"); ok {
			c.Remote.Profile = strings.TrimSpace(value)
		}
	}
	c.Remote.OutboxPrefix = strings.Trim(strings.TrimSpace(c.Remote.OutboxPrefix), "/")
	c.Remote.BatchesPrefix = strings.Trim(strings.TrimSpace(c.Remote.BatchesPrefix), "/")
	c.Remote.BatchNameTemplate = strings.TrimSpace(c.Remote.BatchNameTemplate)
	if c.Remote.BatchNameTemplate == "" {
		c.Remote.BatchNameTemplate = defaultBatchNameTemplate
	}
	strip := c.Remote.NormalizeStrip[:0]
	for _, s := range c.Remote.NormalizeStrip {
		if s = strings.TrimSpace(s); s != "" {
			strip = append(strip, s)
		}
	}
	c.Remote.NormalizeStrip = strip
}

func (c *Config) normalizeTools() {
	c.Tools.Validator = strings.ToLower(strings.TrimSpace(c.Tools.Validator))
	if c.Tools.Validator == "" {
		c.Tools.Validator = defaultValidator
	}
	order := make([]string, 0, len(c.Tools.MergeOrder))
	for _, name := range c.Tools.MergeOrder {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			order = append(order, name)
		}
	}
	if len(order) == 0 {
		order = append(order, defaultMergeOrder...)
	}
	c.Tools.MergeOrder = order
}
