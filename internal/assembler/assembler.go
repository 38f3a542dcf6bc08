package assembler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pagebind/internal/deps"
	"pagebind/internal/hocr"
	"pagebind/internal/imaging"
	"pagebind/internal/language"
	"pagebind/internal/logging"
	"pagebind/internal/runner"
	"pagebind/internal/services"
)

// PageUnit is one page to assemble. Index is the 1-based canonical position.
type PageUnit struct {
	Index int
	Image string
	OCR   string
}

// PageResult is the single-page PDF produced for a PageUnit.
type PageResult struct {
	Index int
	PDF   string
	Err   error
}

// Options control one assembly run.
type Options struct {
	DPI        int
	ScratchDir string
	// Workers overrides the assembler's pool size when positive.
	Workers int
	// Progress is called after each completed page.
	Progress func(done, total int)
}

// Report summarises a successful run.
type Report struct {
	Pages []PageResult
	// ScaleFallback is set when no page declared a bbox and every page was
	// overlaid at scale 1.0.
	ScaleFallback bool
	Workers       int
	Duration      time.Duration
}

// PDFs returns the page PDF paths in page order.
func (r Report) PDFs() []string {
	out := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		out = append(out, p.PDF)
	}
	return out
}

// ErrNoPages rejects an empty page list.
var ErrNoPages = errors.New("zero pages")

// PageAssemblyFailure identifies the page whose failure stopped the run.
type PageAssemblyFailure struct {
	Index int
	Err   error
}

func (e *PageAssemblyFailure) Error() string {
	return fmt.Sprintf("page %d: %v", e.Index, e.Err)
}

func (e *PageAssemblyFailure) Unwrap() error { return e.Err }

// ImageTool reads and resamples master images.
type ImageTool interface {
	Identify(ctx context.Context, path string) (imaging.Info, error)
	Resample(ctx context.Context, src, dst string, dpi int) error
}

// OverlayChain lists the text overlay tools.
func OverlayChain() deps.Chain {
	return deps.Chain{
		Function:   "text overlay",
		Candidates: []deps.Candidate{deps.Binary("hocr-pdf", "hocr-pdf")},
	}
}

// Assembler runs page assembly.
type Assembler struct {
	exec    runner.Executor
	images  ImageTool
	overlay deps.Chain
	workers int
	logger  *slog.Logger
}

// New builds an Assembler. workers <= 0 selects one less than the CPU count.
func New(exec runner.Executor, images ImageTool, workers int, logger *slog.Logger) *Assembler {
	if workers <= 0 {
		workers = defaultWorkers()
	}
	return &Assembler{
		exec:    exec,
		images:  images,
		overlay: OverlayChain(),
		workers: workers,
		logger:  logging.NewComponentLogger(logger, "assembler"),
	}
}

type pagePlan struct {
	unit      PageUnit
	bboxWidth int
	direction language.Direction
	languages []string
}

// Assemble produces one PDF per unit under opts.ScratchDir.
func (a *Assembler) Assemble(ctx context.Context, units []PageUnit, opts Options) (Report, error) {
	if len(units) == 0 {
		return Report{}, ErrNoPages
	}
	if opts.DPI <= 0 {
		return Report{}, services.Wrap(services.ErrValidation, "assembler", "assemble", fmt.Sprintf("invalid target dpi %d", opts.DPI), nil)
	}
	overlay, err := a.overlay.Resolve()
	if err != nil {
		return Report{}, services.Wrap(services.ErrExternalTool, "assembler", "resolve overlay tool", "", err)
	}
	logger := logging.WithContext(ctx, a.logger)
	start := time.Now()

	plans, fallbackWidth, err := plan(units)
	if err != nil {
		return Report{}, err
	}
	report := Report{Workers: a.workers}
	if opts.Workers > 0 {
		report.Workers = opts.Workers
	}
	if fallbackWidth == 0 {
		report.ScaleFallback = true
		logging.WarnWithContext(logger, "no page declares a bbox; overlaying at scale 1.0", "scale_fallback",
			logging.Int("pages", len(units)),
			logging.String(logging.FieldImpact, "OCR text positions are not rescaled to the resampled image"),
			logging.String(logging.FieldErrorHint, "check that the hOCR ocr_page elements carry a bbox"),
		)
	}

	if err := os.MkdirAll(opts.ScratchDir, 0o755); err != nil {
		return Report{}, services.Wrap(services.ErrTransient, "assembler", "assemble", "create scratch dir", err)
	}

	results := make([]PageResult, len(plans))
	var mu sync.Mutex
	done := 0

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(report.Workers)
	for i, p := range plans {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			// In-flight pages finish on ctx even after another page fails.
			pdf, err := a.assemblePage(ctx, p, fallbackWidth, overlay.Command, opts)
			if err != nil {
				return &PageAssemblyFailure{Index: p.unit.Index, Err: err}
			}
			mu.Lock()
			results[i] = PageResult{Index: p.unit.Index, PDF: pdf}
			done++
			if opts.Progress != nil {
				opts.Progress(done, len(plans))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		var failure *PageAssemblyFailure
		if errors.As(err, &failure) {
			logging.ErrorWithContext(logging.WithContext(services.WithPage(ctx, failure.Index), a.logger),
				"page assembly failed", "page_failed",
				logging.Error(failure.Err),
				logging.Int("completed", done),
				logging.Int("pages", len(plans)),
			)
		}
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report.Pages = results
	report.Duration = time.Since(start)
	logger.Info("pages assembled",
		logging.Int("pages", len(results)),
		logging.Int("dpi", opts.DPI),
		logging.Int("workers", report.Workers),
		logging.String("language", primaryLanguage(plans)),
		logging.Duration("duration", report.Duration),
	)
	return report, nil
}

func primaryLanguage(plans []pagePlan) string {
	for _, p := range plans {
		if len(p.languages) > 0 {
			return language.DisplayName(p.languages[0])
		}
	}
	return language.DisplayName("")
}

// plan checks the page indices, parses every hOCR file once and returns the
// pages in ascending index order together with the first usable bbox width
// of the set.
func plan(units []PageUnit) ([]pagePlan, int, error) {
	seen := make(map[int]struct{}, len(units))
	for _, unit := range units {
		if unit.Index <= 0 {
			return nil, 0, services.Wrap(services.ErrValidation, "assembler", "plan",
				fmt.Sprintf("page index %d is not positive", unit.Index), nil)
		}
		if _, dup := seen[unit.Index]; dup {
			return nil, 0, services.Wrap(services.ErrValidation, "assembler", "plan",
				fmt.Sprintf("duplicate page index %d", unit.Index), nil)
		}
		seen[unit.Index] = struct{}{}
	}
	ordered := slices.SortedFunc(slices.Values(units), func(a, b PageUnit) int {
		return cmp.Compare(a.Index, b.Index)
	})

	plans := make([]pagePlan, len(ordered))
	fallback := 0
	for i, unit := range ordered {
		page, err := hocr.ParseFile(unit.OCR)
		if err != nil {
			return nil, 0, &PageAssemblyFailure{Index: unit.Index, Err: err}
		}
		plans[i] = pagePlan{
			unit:      unit,
			direction: page.Direction(),
			languages: language.NormalizeList(page.Languages),
		}
		if page.BBox != nil {
			plans[i].bboxWidth = page.BBox.Width()
			if fallback == 0 {
				fallback = plans[i].bboxWidth
			}
		}
	}
	return plans, fallback, nil
}

func (a *Assembler) assemblePage(ctx context.Context, p pagePlan, fallbackWidth int, overlay string, opts Options) (string, error) {
	ctx = services.WithPage(ctx, p.unit.Index)
	logger := logging.WithContext(ctx, a.logger)
	name := fmt.Sprintf("%06d", p.unit.Index)
	dir := filepath.Join(opts.ScratchDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	scale := 1.0
	bboxWidth := p.bboxWidth
	if bboxWidth == 0 {
		bboxWidth = fallbackWidth
	}
	if bboxWidth > 0 {
		info, err := a.images.Identify(ctx, p.unit.Image)
		if err != nil {
			return "", err
		}
		scale, err = imaging.Scale(info.Width, info.DPI, bboxWidth, opts.DPI)
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "assembler", "scale", p.unit.Image, err)
		}
	}

	jpg := filepath.Join(dir, name+".jpg")
	if err := a.images.Resample(ctx, p.unit.Image, jpg, opts.DPI); err != nil {
		return "", err
	}
	ocr, err := filepath.Abs(p.unit.OCR)
	if err != nil {
		return "", err
	}
	if err := os.Symlink(ocr, filepath.Join(dir, name+".hocr")); err != nil {
		return "", err
	}

	pdf := filepath.Join(dir, name+".pdf")
	args := []string{"--scale-hocr", imaging.FormatScale(scale)}
	if p.direction == language.RightToLeft {
		args = append(args, "--reverse")
	}
	args = append(args, "--savefile", pdf, dir)
	if _, err := a.exec.Run(ctx, overlay, args...); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "assembler", "overlay", name, err)
	}
	if _, err := os.Stat(pdf); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "assembler", "overlay", "no output produced for page "+name, err)
	}
	logger.Debug("page assembled",
		logging.String("pdf", pdf),
		logging.String("scale", imaging.FormatScale(scale)),
		logging.String("direction", p.direction.String()),
		logging.Strings("languages", p.languages),
	)
	return pdf, nil
}

func defaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}
