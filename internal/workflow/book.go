package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagebind/internal/assembler"
	"pagebind/internal/fileutil"
	"pagebind/internal/journal"
	"pagebind/internal/logging"
	"pagebind/internal/matcher"
	"pagebind/internal/merger"
	"pagebind/internal/pdfcheck"
	"pagebind/internal/services"
)

// BookRequest describes one book to build. Empty directories are filled in
// from the path resolver; OutputBase defaults to <output_dir>/<book>, giving
// <output_dir>/<book>_<variant>.pdf.
type BookRequest struct {
	BookID     string
	MasterDir  string
	OCRDir     string
	OutputBase string
}

// Document is one produced (or skipped) PDF variant.
type Document struct {
	Variant    string
	DPI        int
	Output     string
	Pages      int
	Tool       string
	Skipped    bool
	Digest     string
	Size       int64
	Validation pdfcheck.Report
	Duration   time.Duration
}

// BookReport summarises the documents built for one book.
type BookReport struct {
	BookID    string
	Documents []Document
	Err       error
}

// BuildBook assembles and merges every configured variant of a book whose
// OCR files already carry canonical names.
func (m *Manager) BuildBook(ctx context.Context, req BookRequest) (BookReport, error) {
	ctx, _ = ensureRunID(ctx)
	ctx = services.WithBookID(ctx, req.BookID)
	report := BookReport{BookID: req.BookID}

	req, err := m.completeRequest(req)
	if err != nil {
		report.Err = err
		return report, err
	}
	units, err := matcher.Pair(req.MasterDir, req.OCRDir)
	if err != nil {
		report.Err = err
		m.recordFailure(ctx, req.BookID, "", 0, err)
		return report, err
	}
	return m.buildVariants(ctx, req, units)
}

func (m *Manager) completeRequest(req BookRequest) (BookRequest, error) {
	if strings.TrimSpace(req.BookID) == "" {
		return req, services.Wrap(services.ErrValidation, "workflow", "build book", "book id is empty", nil)
	}
	if req.MasterDir == "" || req.OCRDir == "" {
		paths, err := m.resolver.Resolve(req.BookID)
		if err != nil {
			return req, err
		}
		if req.MasterDir == "" {
			req.MasterDir = paths.MasterDir
		}
		if req.OCRDir == "" {
			req.OCRDir = paths.OCRDir
		}
		if req.OCRDir == "" {
			req.OCRDir = req.MasterDir
		}
	}
	if req.OutputBase == "" {
		req.OutputBase = filepath.Join(m.cfg.Paths.OutputDir, req.BookID)
	}
	return req, nil
}

// buildVariants runs assemble+merge for each DPI variant in name order. The
// first failing variant stops the book.
func (m *Manager) buildVariants(ctx context.Context, req BookRequest, units []assembler.PageUnit) (BookReport, error) {
	report := BookReport{BookID: req.BookID}
	runID, _ := services.RunIDFromContext(ctx)
	logger := logging.WithContext(ctx, m.logger)

	scratch := filepath.Join(m.cfg.Paths.ScratchDir, runID, req.BookID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		report.Err = services.Wrap(services.ErrConfiguration, "workflow", "create scratch", scratch, err)
		return report, report.Err
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logger.Warn("failed to remove scratch", logging.String("path", scratch), logging.Error(err))
		}
		// Drop the run directory once the last book has released it.
		_ = os.Remove(filepath.Dir(scratch))
	}()

	variants := m.cfg.Variants()
	names := make([]string, 0, len(variants))
	for name := range variants {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		doc, err := m.buildVariant(ctx, req, units, name, variants[name], scratch)
		if err != nil {
			report.Err = err
			m.recordFailure(ctx, req.BookID, name, variants[name], err)
			return report, err
		}
		report.Documents = append(report.Documents, doc)
		m.recordDocument(ctx, req.BookID, doc)
	}
	return report, nil
}

func (m *Manager) buildVariant(ctx context.Context, req BookRequest, units []assembler.PageUnit, variant string, dpi int, scratch string) (Document, error) {
	output := fmt.Sprintf("%s_%s.pdf", req.OutputBase, variant)
	doc := Document{Variant: variant, DPI: dpi, Output: output, Pages: len(units)}
	logger := logging.WithContext(ctx, m.logger).With(logging.String("variant", variant), logging.Int("dpi", dpi))

	if _, err := os.Stat(output); err == nil && !m.cfg.PDF.Overwrite {
		logger.Info("document exists; skipping", logging.String("output", output))
		doc.Skipped = true
		return doc, nil
	}

	start := time.Now()
	pagesDir := filepath.Join(scratch, variant)
	assembled, err := m.assembler.Assemble(ctx, units, assembler.Options{
		DPI:        dpi,
		ScratchDir: pagesDir,
		Progress:   m.progressFor(req.BookID, variant),
	})
	if err != nil {
		return doc, err
	}
	m.metrics.ObserveStage("assemble", assembled.Duration)
	m.metrics.AddPages(len(assembled.Pages))

	outcome, err := m.merger.Merge(ctx, assembled.PDFs(), merger.Options{
		Output:        output,
		ScratchDir:    scratch,
		Overwrite:     m.cfg.PDF.Overwrite,
		RemoveSources: !m.cfg.PDF.KeepPages,
	})
	if err != nil {
		return doc, err
	}
	m.metrics.ObserveStage("merge", outcome.Duration)
	doc.Tool = outcome.Tool
	doc.Skipped = outcome.Skipped

	if m.cfg.PDF.KeepPages {
		if err := keepPages(assembled.PDFs(), fmt.Sprintf("%s_%s_pages", req.OutputBase, variant)); err != nil {
			return doc, err
		}
	}

	validation, err := m.validator.Validate(ctx, output)
	doc.Validation = validation
	if err != nil {
		// A rejected document must not be skipped as existing on the next run.
		if errors.Is(err, services.ErrValidation) {
			if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logging.WarnWithContext(logger, "invalid document could not be removed", "invalid_output_retained",
					logging.String("output", output),
					logging.Error(rmErr),
				)
			}
		}
		return doc, err
	}

	digest, size, err := fileutil.HashFile(output)
	if err != nil {
		return doc, services.Wrap(services.ErrTransient, "workflow", "hash output", output, err)
	}
	doc.Digest = digest
	doc.Size = size
	doc.Duration = time.Since(start)
	logger.Info("document built",
		logging.String("output", output),
		logging.Int("pages", doc.Pages),
		logging.String("merge_tool", doc.Tool),
		logging.String("validator", validation.Validator),
		logging.Duration("duration", doc.Duration),
	)
	return doc, nil
}

// keepPages moves the page PDFs next to the output so they survive scratch
// cleanup.
func keepPages(pages []string, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "workflow", "keep pages", dir, err)
	}
	var errs []error
	for _, page := range pages {
		if err := fileutil.MoveFile(page, filepath.Join(dir, filepath.Base(page))); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return services.Wrap(services.ErrTransient, "workflow", "keep pages", dir, err)
	}
	return nil
}

func (m *Manager) recordDocument(ctx context.Context, bookID string, doc Document) {
	status := journal.StatusCompleted
	if doc.Skipped {
		status = journal.StatusSkipped
	}
	m.metrics.IncDocument(doc.Variant, status)
	m.record(ctx, journal.Entry{
		BookID:     bookID,
		Variant:    doc.Variant,
		DPI:        doc.DPI,
		OutputPath: doc.Output,
		Status:     status,
		Pages:      doc.Pages,
		MergeTool:  doc.Tool,
		Validator:  doc.Validation.Validator,
		Digest:     doc.Digest,
		SizeBytes:  doc.Size,
		StartedAt:  time.Now().Add(-doc.Duration),
	})
}

func (m *Manager) recordFailure(ctx context.Context, bookID, variant string, dpi int, err error) {
	outcome := services.FailureOutcome(err)
	m.metrics.IncDocument(variant, outcome)
	m.record(ctx, journal.Entry{
		BookID:  bookID,
		Variant: variant,
		DPI:     dpi,
		Status:  outcome,
		Error:   err.Error(),
	})
}

func (m *Manager) record(ctx context.Context, entry journal.Entry) {
	if m.journal == nil {
		return
	}
	entry.RunID, _ = services.RunIDFromContext(ctx)
	entry.BatchID, _ = services.BatchIDFromContext(ctx)
	if _, err := m.journal.Record(ctx, entry); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "failed to record journal entry", "journal_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "journal list will not show this document"),
		)
	}
}

func ensureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := services.RunIDFromContext(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return services.WithRunID(ctx, id), id
}
