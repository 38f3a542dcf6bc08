package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	variantNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
	templateToken      = regexp.MustCompile(`\{([a-z]+)\}`)
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateBooks(); err != nil {
		return err
	}
	if err := c.validatePDF(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Cache.LockTimeoutSeconds < 0 {
		return errors.New("cache.lock_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateRemote() error {
	switch c.Remote.Kind {
	case "s3", "gcs":
	default:
		return fmt.Errorf("remote.kind: unsupported value %q (want s3 or gcs)", c.Remote.Kind)
	}
	if !strings.Contains(c.Remote.BatchNameTemplate, "{id}") {
		return errors.New("remote.batch_name_template must contain {id}")
	}
	return nil
}

func (c *Config) validateBooks() error {
	if c.Books.BookIDPattern == "" {
		return errors.New("books.book_id_pattern must be set")
	}
	if _, err := regexp.Compile(c.Books.BookIDPattern); err != nil {
		return fmt.Errorf("books.book_id_pattern: %w", err)
	}
	if c.Books.MasterDirTemplate == "" {
		return errors.New("books.master_dir_template must be set")
	}
	templates := map[string]string{
		"books.master_dir_template": c.Books.MasterDirTemplate,
		"books.ocr_dir_template":    c.Books.OCRDirTemplate,
		"books.aux_dir_template":    c.Books.AuxDirTemplate,
	}
	for name, tmpl := range templates {
		for _, match := range templateToken.FindAllStringSubmatch(tmpl, -1) {
			switch match[1] {
			case "partner", "collection", "book":
			default:
				return fmt.Errorf("%s: unknown placeholder {%s}", name, match[1])
			}
		}
	}
	return nil
}

func (c *Config) validatePDF() error {
	for name, dpi := range c.PDF.Variants {
		if !variantNamePattern.MatchString(name) {
			return fmt.Errorf("pdf.variants: invalid variant name %q", name)
		}
		if dpi <= 0 {
			return fmt.Errorf("pdf.variants.%s must be positive", name)
		}
	}
	if c.PDF.Workers < 0 {
		return errors.New("pdf.workers must be >= 0")
	}
	return nil
}

func (c *Config) validateTools() error {
	if c.Tools.TimeoutSeconds < 0 {
		return errors.New("tools.timeout_seconds must be >= 0")
	}
	known := []string{"qpdf", "pdftk", "pdfbox", "pdfcpu"}
	for _, name := range c.Tools.MergeOrder {
		if !slices.Contains(known, name) {
			return fmt.Errorf("tools.merge_order: unknown tool %q", name)
		}
	}
	switch c.Tools.Validator {
	case "auto", "jhove", "pdfcpu", "none":
	default:
		return fmt.Errorf("tools.validator: unsupported value %q", c.Tools.Validator)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
