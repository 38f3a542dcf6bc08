package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pagebind/internal/fileutil"
	"pagebind/internal/logging"
	"pagebind/internal/services"
)

// CopyReport lists what CopyOCRToAux did (or would do in dry-run).
type CopyReport struct {
	Source  string
	Dest    string
	Copied  []string
	Skipped []string
	DryRun  bool
}

// CopyOCRToAux copies every .hocr file from src into dest. Existing targets
// are never overwritten.
func (m *Manager) CopyOCRToAux(ctx context.Context, src, dest string, dryRun bool) (CopyReport, error) {
	report := CopyReport{Source: src, Dest: dest, DryRun: dryRun}
	logger := logging.WithContext(ctx, m.logger)
	for _, dir := range []string{src, dest} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return report, services.Wrap(services.ErrNotFound, "workflow", "copy hocr", "directory does not exist: "+dir, err)
		}
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return report, services.Wrap(services.ErrNotFound, "workflow", "copy hocr", src, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".hocr") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		logger.Warn("no .hocr files found", logging.String("dir", src))
		return report, nil
	}

	for _, name := range names {
		target := filepath.Join(dest, name)
		if _, err := os.Lstat(target); err == nil {
			logger.Warn("target exists; skipping", logging.String("target", target))
			report.Skipped = append(report.Skipped, name)
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return report, services.Wrap(services.ErrTransient, "workflow", "copy hocr", target, err)
		}
		report.Copied = append(report.Copied, name)
		if dryRun {
			continue
		}
		if err := fileutil.CopyFilePreserve(filepath.Join(src, name), target); err != nil {
			return report, services.Wrap(services.ErrTransient, "workflow", "copy hocr", target, err)
		}
	}
	logger.Info("hocr files copied",
		logging.Int("copied", len(report.Copied)),
		logging.Int("skipped", len(report.Skipped)),
		logging.Bool("dry_run", dryRun),
		logging.String("dest", dest),
	)
	return report, nil
}

// CopyBatchOCRToAux runs CopyOCRToAux for every book directory of a
// processed batch, resolving each book's aux directory.
func (m *Manager) CopyBatchOCRToAux(ctx context.Context, batchID string, dryRun bool) ([]CopyReport, error) {
	_, processing := m.cfg.BatchDirs(batchID)
	entries, err := os.ReadDir(processing)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "copy hocr", processing, err)
	}
	var reports []CopyReport
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		paths, err := m.resolver.Resolve(entry.Name())
		if err != nil {
			return reports, err
		}
		if paths.AuxDir == "" {
			return reports, services.Wrap(services.ErrConfiguration, "workflow", "copy hocr", "books.aux_dir_template is not configured", nil)
		}
		report, err := m.CopyOCRToAux(services.WithBookID(ctx, entry.Name()), filepath.Join(processing, entry.Name()), paths.AuxDir, dryRun)
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}
