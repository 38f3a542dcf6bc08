package merger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"pagebind/internal/config"
	"pagebind/internal/deps"
	"pagebind/internal/fileutil"
	"pagebind/internal/logging"
	"pagebind/internal/runner"
	"pagebind/internal/services"
)

const (
	stripBinary     = "exiftool"
	linearizeBinary = "qpdf"
	pdfboxMainClass = "org.apache.pdfbox.tools.PDFMerger"
)

// Options control one merge.
type Options struct {
	Output        string
	ScratchDir    string
	Overwrite     bool
	RemoveSources bool
}

// Outcome describes what Merge did.
type Outcome struct {
	Output   string
	Tool     string
	Pages    int
	Skipped  bool
	Duration time.Duration
}

// MergeToolUnavailableError reports that no concatenation tool could be used.
type MergeToolUnavailableError struct {
	Tried []string
}

func (e *MergeToolUnavailableError) Error() string {
	return fmt.Sprintf("no PDF merge tool available (tried %s)", strings.Join(e.Tried, ", "))
}

func (e *MergeToolUnavailableError) Is(target error) bool {
	return target == services.ErrExternalTool
}

type concatFunc func(ctx context.Context, exec runner.Executor, command string, pages []string, out string) error

type concatenator struct {
	candidate deps.Candidate
	concat    concatFunc
}

// Merger builds book PDFs from page PDFs.
type Merger struct {
	exec   runner.Executor
	tools  []concatenator
	logger *slog.Logger
}

// New builds a Merger whose tool chain follows cfg.MergeOrder.
func New(exec runner.Executor, cfg config.Tools, logger *slog.Logger) *Merger {
	tools := make([]concatenator, 0, len(cfg.MergeOrder))
	for _, name := range cfg.MergeOrder {
		if tool, ok := concatenatorFor(name, cfg); ok {
			tools = append(tools, tool)
		}
	}
	return &Merger{
		exec:   exec,
		tools:  tools,
		logger: logging.NewComponentLogger(logger, "merger"),
	}
}

// Chain exposes the configured concatenation chain for status reporting.
func (m *Merger) Chain() deps.Chain {
	chain := deps.Chain{Function: "PDF merge"}
	for _, tool := range m.tools {
		chain.Candidates = append(chain.Candidates, tool.candidate)
	}
	return chain
}

func concatenatorFor(name string, cfg config.Tools) (concatenator, bool) {
	switch name {
	case "qpdf":
		return concatenator{candidate: deps.Binary("qpdf", "qpdf"), concat: concatQPDF}, true
	case "pdftk":
		return concatenator{candidate: deps.Binary("pdftk", "pdftk"), concat: concatPDFTK}, true
	case "pdfbox":
		jars := append([]string(nil), cfg.PDFBoxJars...)
		return concatenator{
			candidate: deps.BinaryWithFiles("pdfbox", "java", jars...),
			concat: func(ctx context.Context, exec runner.Executor, command string, pages []string, out string) error {
				return concatPDFBox(ctx, exec, command, jars, pages, out)
			},
		}, true
	case "pdfcpu":
		return concatenator{candidate: deps.InProcess("pdfcpu", cfg.EnablePDFCPU), concat: concatPDFCPU}, true
	}
	return concatenator{}, false
}

func concatQPDF(ctx context.Context, exec runner.Executor, command string, pages []string, out string) error {
	args := append([]string{"--empty", "--pages"}, pages...)
	args = append(args, "--", out)
	_, err := exec.Run(ctx, command, args...)
	return err
}

func concatPDFTK(ctx context.Context, exec runner.Executor, command string, pages []string, out string) error {
	args := append(append([]string(nil), pages...), "cat", "output", out)
	_, err := exec.Run(ctx, command, args...)
	return err
}

func concatPDFBox(ctx context.Context, exec runner.Executor, command string, jars, pages []string, out string) error {
	args := []string{"-Xms512m", "-Xmx512m", "-cp", strings.Join(jars, string(os.PathListSeparator)), pdfboxMainClass}
	args = append(args, pages...)
	args = append(args, out)
	_, err := exec.Run(ctx, command, args...)
	return err
}

func concatPDFCPU(_ context.Context, _ runner.Executor, _ string, pages []string, out string) error {
	return api.MergeCreateFile(pages, out, false, nil)
}

// Merge concatenates pages in the given order into opts.Output.
func (m *Merger) Merge(ctx context.Context, pages []string, opts Options) (Outcome, error) {
	outcome := Outcome{Output: opts.Output, Pages: len(pages)}
	if len(pages) == 0 {
		return outcome, services.Wrap(services.ErrValidation, "merger", "merge", "no page PDFs to merge", nil)
	}
	if strings.TrimSpace(opts.Output) == "" {
		return outcome, services.Wrap(services.ErrValidation, "merger", "merge", "output path is empty", nil)
	}
	logger := logging.WithContext(ctx, m.logger).With(logging.String("output", opts.Output))

	if _, err := os.Stat(opts.Output); err == nil && !opts.Overwrite {
		logger.Info("output exists; skipping merge",
			logging.String(logging.FieldEventType, "merge_skipped"),
			logging.String(logging.FieldErrorHint, "enable pdf.overwrite to rebuild"),
		)
		outcome.Skipped = true
		return outcome, nil
	}

	tool, resolved, err := m.resolve()
	if err != nil {
		return outcome, err
	}
	outcome.Tool = resolved.Name
	start := time.Now()

	work, err := os.MkdirTemp(opts.ScratchDir, "merge-")
	if err != nil {
		return outcome, services.Wrap(services.ErrConfiguration, "merger", "create scratch", "", err)
	}
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			logger.Warn("failed to remove merge scratch", logging.String("path", work), logging.Error(err))
		}
	}()

	stem := strings.TrimSuffix(filepath.Base(opts.Output), filepath.Ext(opts.Output))
	merged := filepath.Join(work, stem+"_merged.pdf")
	stripped := filepath.Join(work, stem+"_exif.pdf")
	linear := filepath.Join(work, stem+"_qpdf.pdf")

	logger.Debug("merging pages", logging.String("tool", resolved.Name), logging.Int("pages", len(pages)))
	if err := tool.concat(ctx, m.exec, resolved.Command, pages, merged); err != nil {
		return outcome, services.Wrap(services.ErrExternalTool, "merger", "concatenate", resolved.Name+" failed", err)
	}
	if _, err := m.exec.Run(ctx, stripBinary, "-q", "-all:all=", "-o", stripped, merged); err != nil {
		return outcome, services.Wrap(services.ErrExternalTool, "merger", "strip metadata", "exiftool failed", err)
	}
	if _, err := m.exec.Run(ctx, linearizeBinary, "--linearize", stripped, linear); err != nil {
		return outcome, services.Wrap(services.ErrExternalTool, "merger", "linearize", "qpdf failed", err)
	}

	count, err := api.PageCountFile(linear)
	if err != nil {
		return outcome, services.Wrap(services.ErrValidation, "merger", "count pages", "merged PDF is unreadable", err)
	}
	if count != len(pages) {
		return outcome, services.Wrap(services.ErrValidation, "merger", "count pages",
			fmt.Sprintf("merged PDF has %d pages, expected %d", count, len(pages)), nil)
	}

	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return outcome, services.Wrap(services.ErrConfiguration, "merger", "create output dir", "", err)
	}
	if err := fileutil.MoveFile(linear, opts.Output); err != nil {
		return outcome, services.Wrap(services.ErrTransient, "merger", "move output", "", err)
	}
	outcome.Duration = time.Since(start)
	logger.Info("merged document",
		logging.String("tool", resolved.Name),
		logging.Int("pages", count),
		logging.Duration("duration", outcome.Duration),
	)

	if opts.RemoveSources {
		if err := removeSources(pages); err != nil {
			return outcome, services.Wrap(services.ErrTransient, "merger", "remove page PDFs", "", err)
		}
	}
	return outcome, nil
}

func (m *Merger) resolve() (concatenator, deps.Resolved, error) {
	tried := make([]string, 0, len(m.tools))
	for _, tool := range m.tools {
		resolved, err := deps.Chain{Function: "PDF merge", Candidates: []deps.Candidate{tool.candidate}}.Resolve()
		if err == nil {
			return tool, resolved, nil
		}
		tried = append(tried, tool.candidate.Name)
	}
	return concatenator{}, deps.Resolved{}, &MergeToolUnavailableError{Tried: tried}
}

func removeSources(pages []string) error {
	var errs []error
	for _, page := range pages {
		if err := os.Remove(page); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
