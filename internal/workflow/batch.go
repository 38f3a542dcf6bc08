package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pagebind/internal/logging"
	"pagebind/internal/matcher"
	"pagebind/internal/preflight"
	"pagebind/internal/remote"
	"pagebind/internal/services"
)

// BatchReport summarises one batch run.
type BatchReport struct {
	BatchID    string
	RunID      string
	Outbox     string
	Processing string
	CacheHit   bool
	Books      []BookReport
	Duration   time.Duration
}

// Failed returns the books that did not complete.
func (r BatchReport) Failed() []BookReport {
	var failed []BookReport
	for _, b := range r.Books {
		if b.Err != nil {
			failed = append(failed, b)
		}
	}
	return failed
}

// FetchBatch brings a batch into the dropbox outbox through the cache and
// returns the outbox path.
func (m *Manager) FetchBatch(ctx context.Context, batchID string) (string, bool, error) {
	if m.cache == nil {
		return "", false, services.Wrap(services.ErrConfiguration, "workflow", "fetch batch", "no remote store configured", nil)
	}
	outbox, processing := m.cfg.BatchDirs(batchID)
	for _, dir := range []string{outbox, processing} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, services.Wrap(services.ErrConfiguration, "workflow", "create batch dirs", dir, err)
		}
	}
	start := time.Now()
	entry, err := m.cache.Fetch(ctx, batchID, outbox)
	if err != nil {
		return "", false, err
	}
	m.metrics.IncCache(!entry.Built)
	m.metrics.ObserveStage("fetch", time.Since(start))
	return outbox, !entry.Built, nil
}

// ProcessBatch runs the full pipeline for batchID. Book failures do not stop
// the remaining books; they are reported together at the end.
func (m *Manager) ProcessBatch(ctx context.Context, batchID string) (BatchReport, error) {
	ctx = services.WithBatchID(ctx, batchID)
	ctx, runID := ensureRunID(ctx)
	logger := logging.WithContext(ctx, m.logger)
	start := time.Now()
	report := BatchReport{BatchID: batchID, RunID: runID}
	defer m.exportMetrics(ctx)

	if m.preflight != nil {
		results := m.preflight(ctx, m.cfg)
		if failed := preflight.Failed(results); len(failed) > 0 {
			return report, services.Wrap(services.ErrConfiguration, "workflow", "preflight", preflight.Summary(results), nil)
		}
	}
	logger.Info("batch started")

	outbox, hit, err := m.FetchBatch(ctx, batchID)
	if err != nil {
		return report, err
	}
	_, processing := m.cfg.BatchDirs(batchID)
	report.Outbox, report.Processing, report.CacheHit = outbox, processing, hit

	csvPath := filepath.Join(outbox, m.cfg.BatchName(batchID)+".csv")
	if err := m.store.Fetch(ctx, remote.BatchCSVKey(m.cfg, batchID), csvPath); err != nil {
		return report, err
	}
	listed, err := ConfirmArchives(outbox, csvPath)
	if err != nil {
		return report, err
	}
	logger.Info("archives match batch csv", logging.Int("books", len(listed)))

	books, err := Unpack(outbox, processing, m.cfg.Remote.NormalizeStrip)
	if err != nil {
		return report, err
	}
	if err := ValidateOCRCounts(processing); err != nil {
		return report, err
	}

	var errs []error
	for _, bookID := range books {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		book, err := m.processBook(ctx, bookID, filepath.Join(processing, bookID))
		report.Books = append(report.Books, book)
		if err != nil {
			logging.ErrorWithContext(logging.WithContext(services.WithBookID(ctx, bookID), m.logger),
				"book failed", "book_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix the book and rerun the batch; finished books are skipped"),
			)
			errs = append(errs, fmt.Errorf("%s: %w", bookID, err))
		}
	}
	report.Duration = time.Since(start)
	m.metrics.ObserveBatch(report.Duration)
	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	m.metrics.MarkSuccess(time.Now())
	logger.Info("batch complete",
		logging.Int("books", len(report.Books)),
		logging.Bool("cache_hit", report.CacheHit),
		logging.Duration("duration", report.Duration),
	)
	return report, nil
}

// processBook matches a freshly unpacked book against its masters and builds
// its variants.
func (m *Manager) processBook(ctx context.Context, bookID, unpacked string) (BookReport, error) {
	ctx = services.WithBookID(ctx, bookID)
	report := BookReport{BookID: bookID}
	paths, err := m.resolver.Resolve(bookID)
	if err != nil {
		report.Err = err
		m.recordFailure(ctx, bookID, "", 0, err)
		return report, err
	}
	ocrDir := paths.OCRDir
	if ocrDir == "" {
		ocrDir = unpacked
	}
	result, err := m.matcher.Match(ctx, matcher.Request{
		BookID:     bookID,
		MasterDir:  paths.MasterDir,
		OCRDir:     ocrDir,
		CheckPerms: true,
	})
	if err != nil {
		report.Err = err
		m.recordFailure(ctx, bookID, "", 0, err)
		return report, err
	}
	req := BookRequest{
		BookID:     bookID,
		MasterDir:  paths.MasterDir,
		OCRDir:     ocrDir,
		OutputBase: filepath.Join(m.cfg.Paths.OutputDir, bookID),
	}
	return m.buildVariants(ctx, req, matcher.Units(result))
}

func (m *Manager) exportMetrics(ctx context.Context) {
	if err := m.metrics.WriteTextfile(m.cfg.Metrics.TextfilePath); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "failed to write metrics textfile", "metrics_export_failed",
			logging.Error(err),
			logging.String("path", m.cfg.Metrics.TextfilePath),
		)
	}
}
