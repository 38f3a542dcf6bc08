package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"pagebind/internal/config"
	"pagebind/internal/fileutil"
	"pagebind/internal/journal"
	"pagebind/internal/logging"
	"pagebind/internal/metrics"
	"pagebind/internal/pdfcheck"
	"pagebind/internal/preflight"
	"pagebind/internal/remote"
	"pagebind/internal/runner"
	"pagebind/internal/services"
	"pagebind/internal/testsupport"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

// pipelineExec emulates ImageMagick, hocr-pdf, exiftool and qpdf well enough
// for the pipeline to produce real (blank) PDFs.
type pipelineExec struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func newPipelineExec() *pipelineExec {
	return &pipelineExec{calls: make(map[string]int)}
}

func (e *pipelineExec) Run(_ context.Context, binary string, args ...string) (runner.Result, error) {
	name := filepath.Base(binary)
	e.mu.Lock()
	e.calls[name]++
	e.mu.Unlock()
	if name == e.fail {
		return runner.Result{}, &runner.SubprocessError{Binary: binary, Args: args, ExitCode: 1, Stderr: "boom"}
	}
	switch name {
	case "magick":
		if args[0] == "identify" {
			return runner.Result{Stdout: "2000|3000|400|PixelsPerInch"}, nil
		}
		return runner.Result{}, os.WriteFile(args[len(args)-1], []byte("jpg"), 0o644)
	case "hocr-pdf":
		i := slices.Index(args, "--savefile")
		return runner.Result{}, os.WriteFile(args[i+1], testsupport.MinimalPDF(1), 0o644)
	case "exiftool":
		return runner.Result{}, fileutil.CopyFile(args[len(args)-1], args[3])
	case "qpdf":
		if args[0] == "--linearize" {
			return runner.Result{}, fileutil.CopyFile(args[1], args[2])
		}
		end := slices.Index(args, "--")
		return runner.Result{}, os.WriteFile(args[len(args)-1], testsupport.MinimalPDF(end-2), 0o644)
	}
	return runner.Result{}, errors.New("unexpected binary " + binary)
}

func (e *pipelineExec) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// fakeStore serves a fixed batch: files land under the sync directory and the
// CSV is returned for any single-object fetch.
type fakeStore struct {
	files map[string][]byte
	csv   string
	syncs int
}

func (f *fakeStore) Sync(_ context.Context, _ string, localDir string) error {
	f.syncs++
	for name, data := range f.files {
		path := filepath.Join(localDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) Fetch(_ context.Context, _ string, localFile string) error {
	if err := os.MkdirAll(filepath.Dir(localFile), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localFile, []byte(f.csv), 0o644)
}

func (f *fakeStore) URL(key string) string { return "fake://" + key }

type fixture struct {
	cfg     *config.Config
	exec    *pipelineExec
	journal *journal.Store
	metrics *metrics.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Tools.Validator = pdfcheck.ValidatorPDFCPU
	cfg.Metrics.TextfilePath = filepath.Join(testsupport.BaseDir(cfg), "metrics", "pagebind.prom")
	bin := filepath.Join(testsupport.BaseDir(cfg), "bin")
	for _, name := range []string{"magick", "hocr-pdf", "qpdf", "exiftool"} {
		testsupport.StubBinary(t, bin, name, "exit 0\n")
	}
	testsupport.IsolatePath(t, bin)

	store, err := journal.Open(context.Background(), cfg.Paths.JournalPath)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{cfg: cfg, exec: newPipelineExec(), journal: store, metrics: metrics.New()}
}

func (f *fixture) manager(t *testing.T, store remote.Store, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithJournal(f.journal), WithMetrics(f.metrics)}, opts...)
	m, err := New(f.cfg, f.exec, store, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.preflight = func(context.Context, *config.Config) []preflight.Result { return nil }
	return m
}

// masterDir mirrors the test config's master template for a nyu/aco book.
func (f *fixture) masterDir(book string) string {
	return filepath.Join(testsupport.BaseDir(f.cfg), "rstar", "nyu", "aco", book, "data")
}

func (f *fixture) writeMasters(t *testing.T, book string, pages int) {
	t.Helper()
	for i := 1; i <= pages; i++ {
		testsupport.WriteString(t, filepath.Join(f.masterDir(book), fmt.Sprintf("%s_n%06d_d.tif", book, i)), "tif")
	}
}

func (f *fixture) entries(t *testing.T, filter journal.Filter) []journal.Entry {
	t.Helper()
	entries, err := f.journal.List(context.Background(), filter)
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	return entries
}

// writeCanonicalOCR writes hOCR files already carrying canonical names.
func writeCanonicalOCR(t *testing.T, dir, book string, pages int) {
	t.Helper()
	for i := 1; i <= pages; i++ {
		testsupport.WriteString(t, filepath.Join(dir, fmt.Sprintf("%s_n%06d_ocr.hocr", book, i)), testsupport.HOCR(1000, 1500, "eng"))
	}
}

func assertPageCount(t *testing.T, path string, want int) {
	t.Helper()
	got, err := api.PageCountFile(path)
	if err != nil {
		t.Fatalf("page count %s: %v", path, err)
	}
	if got != want {
		t.Fatalf("%s has %d pages, want %d", path, got, want)
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	if names := testsupport.ListNames(t, dir); len(names) != 0 {
		t.Fatalf("%s not empty: %v", dir, names)
	}
}

const book = "nyu_aco000001"

func TestBuildBookWritesEveryVariant(t *testing.T) {
	f := newFixture(t)
	f.writeMasters(t, book, 3)
	writeCanonicalOCR(t, f.masterDir(book), book, 3)

	var mu sync.Mutex
	finals := map[string][2]int{}
	m := f.manager(t, nil, WithProgress(func(_, variant string) func(done, total int) {
		return func(done, total int) {
			mu.Lock()
			finals[variant] = [2]int{max(finals[variant][0], done), total}
			mu.Unlock()
		}
	}))

	report, err := m.BuildBook(context.Background(), BookRequest{BookID: book})
	if err != nil {
		t.Fatalf("BuildBook: %v", err)
	}
	if len(report.Documents) != 2 || report.Documents[0].Variant != "hi" || report.Documents[1].Variant != "lo" {
		t.Fatalf("documents = %+v", report.Documents)
	}
	for _, doc := range report.Documents {
		want := filepath.Join(f.cfg.Paths.OutputDir, book+"_"+doc.Variant+".pdf")
		if doc.Output != want {
			t.Fatalf("output = %q, want %q", doc.Output, want)
		}
		assertPageCount(t, doc.Output, 3)
		if doc.Tool != "qpdf" || doc.Digest == "" || doc.Size == 0 || doc.Validation.Validator != pdfcheck.ValidatorPDFCPU {
			t.Fatalf("document = %+v", doc)
		}
		if finals[doc.Variant] != [2]int{3, 3} {
			t.Fatalf("progress for %s = %v", doc.Variant, finals[doc.Variant])
		}
	}
	if report.Documents[0].DPI != 200 || report.Documents[1].DPI != 96 {
		t.Fatalf("dpis = %d, %d", report.Documents[0].DPI, report.Documents[1].DPI)
	}
	assertEmptyDir(t, f.cfg.Paths.ScratchDir)

	entries := f.entries(t, journal.Filter{BookID: book})
	if len(entries) != 2 {
		t.Fatalf("journal entries = %+v", entries)
	}
	for _, e := range entries {
		if e.Status != journal.StatusCompleted || e.RunID == "" || e.Pages != 3 || e.MergeTool != "qpdf" {
			t.Fatalf("journal entry = %+v", e)
		}
	}
}

func TestBuildBookSkipsExistingOutput(t *testing.T) {
	f := newFixture(t)
	f.writeMasters(t, book, 2)
	writeCanonicalOCR(t, f.masterDir(book), book, 2)
	existing := filepath.Join(f.cfg.Paths.OutputDir, book+"_hi.pdf")
	testsupport.WriteString(t, existing, "existing")

	report, err := f.manager(t, nil).BuildBook(context.Background(), BookRequest{BookID: book})
	if err != nil {
		t.Fatalf("BuildBook: %v", err)
	}
	if !report.Documents[0].Skipped || report.Documents[1].Skipped {
		t.Fatalf("documents = %+v", report.Documents)
	}
	if got := testsupport.ReadString(t, existing); got != "existing" {
		t.Fatalf("existing output replaced: %q", got)
	}
	assertPageCount(t, filepath.Join(f.cfg.Paths.OutputDir, book+"_lo.pdf"), 2)

	skipped := f.entries(t, journal.Filter{Status: journal.StatusSkipped})
	if len(skipped) != 1 || skipped[0].Variant != "hi" {
		t.Fatalf("skipped entries = %+v", skipped)
	}
}

func TestBuildBookOverwriteAndKeepPages(t *testing.T) {
	f := newFixture(t)
	f.cfg.PDF.Overwrite = true
	f.cfg.PDF.KeepPages = true
	f.cfg.PDF.Variants = map[string]int{"hi": 200}
	f.writeMasters(t, book, 2)
	writeCanonicalOCR(t, f.masterDir(book), book, 2)
	existing := filepath.Join(f.cfg.Paths.OutputDir, book+"_hi.pdf")
	testsupport.WriteString(t, existing, "existing")

	report, err := f.manager(t, nil).BuildBook(context.Background(), BookRequest{BookID: book})
	if err != nil {
		t.Fatalf("BuildBook: %v", err)
	}
	if len(report.Documents) != 1 || report.Documents[0].Skipped {
		t.Fatalf("documents = %+v", report.Documents)
	}
	assertPageCount(t, existing, 2)
	pages := testsupport.ListNames(t, filepath.Join(f.cfg.Paths.OutputDir, book+"_hi_pages"))
	if !slices.Equal(pages, []string{"000001.pdf", "000002.pdf"}) {
		t.Fatalf("kept pages = %v", pages)
	}
}

func TestBuildBookMissingHOCRIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.writeMasters(t, book, 2)
	writeCanonicalOCR(t, f.masterDir(book), book, 1)

	_, err := f.manager(t, nil).BuildBook(context.Background(), BookRequest{BookID: book})
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "1 of 2 master images") {
		t.Fatalf("expected missing hocr validation error, got %v", err)
	}
	if f.exec.count("hocr-pdf") != 0 {
		t.Fatalf("assembly started despite missing hOCR")
	}
	entries := f.entries(t, journal.Filter{BookID: book})
	if len(entries) != 1 || entries[0].Status != services.OutcomeInvalid || entries[0].Error == "" {
		t.Fatalf("journal entries = %+v", entries)
	}
}

func TestBuildBookToolFailureLeavesNoOutput(t *testing.T) {
	f := newFixture(t)
	f.exec.fail = "hocr-pdf"
	f.writeMasters(t, book, 2)
	writeCanonicalOCR(t, f.masterDir(book), book, 2)

	report, err := f.manager(t, nil).BuildBook(context.Background(), BookRequest{BookID: book})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if report.Err == nil || len(report.Documents) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if _, statErr := os.Stat(f.cfg.Paths.OutputDir); !os.IsNotExist(statErr) {
		assertEmptyDir(t, f.cfg.Paths.OutputDir)
	}
	assertEmptyDir(t, f.cfg.Paths.ScratchDir)
	entries := f.entries(t, journal.Filter{BookID: book})
	if len(entries) != 1 || entries[0].Status != services.OutcomeFailed || entries[0].Variant != "hi" {
		t.Fatalf("journal entries = %+v", entries)
	}
}

func TestBuildBookRejectsBlankID(t *testing.T) {
	f := newFixture(t)
	if _, err := f.manager(t, nil).BuildBook(context.Background(), BookRequest{BookID: "  "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// batchBook returns the zip content for a book of n uncanonicalised OCR pages.
func batchBook(t *testing.T, id string, n int) []byte {
	t.Helper()
	files := make(map[string]string, 2*n)
	for i := 1; i <= n; i++ {
		files[fmt.Sprintf("%s_%06d.html", id, i)] = testsupport.HOCR(1000, 1500, "")
		files[fmt.Sprintf("%s_%06d.txt", id, i)] = "text"
	}
	return zipBytes(t, files)
}

func newBatchStore(t *testing.T) *fakeStore {
	t.Helper()
	return &fakeStore{
		files: map[string][]byte{
			"nyu_aco000001_lo.zip": batchBook(t, "nyu_aco000001", 2),
			"nyu_aco000002.zip":    batchBook(t, "nyu_aco000002", 1),
		},
		csv: "identifier,title\nnyu_aco000001,First\nnyu_aco000002,Second\n",
	}
}

func TestProcessBatchEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.writeMasters(t, "nyu_aco000001", 2)
	f.writeMasters(t, "nyu_aco000002", 1)
	store := newBatchStore(t)
	m := f.manager(t, store)

	report, err := m.ProcessBatch(context.Background(), "0007")
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if report.CacheHit || report.RunID == "" || len(report.Books) != 2 || len(report.Failed()) != 0 {
		t.Fatalf("report = %+v", report)
	}
	for id, pages := range map[string]int{"nyu_aco000001": 2, "nyu_aco000002": 1} {
		for _, variant := range []string{"hi", "lo"} {
			assertPageCount(t, filepath.Join(f.cfg.Paths.OutputDir, id+"_"+variant+".pdf"), pages)
		}
	}
	renamed := testsupport.ListNames(t, filepath.Join(report.Processing, "nyu_aco000001"))
	want := []string{
		"nyu_aco000001_n000001_ocr.hocr", "nyu_aco000001_n000001_ocr.txt",
		"nyu_aco000001_n000002_ocr.hocr", "nyu_aco000001_n000002_ocr.txt",
	}
	if !slices.Equal(renamed, want) {
		t.Fatalf("processing dir = %v, want %v", renamed, want)
	}
	assertEmptyDir(t, f.cfg.Paths.ScratchDir)

	entries := f.entries(t, journal.Filter{BatchID: "0007"})
	if len(entries) != 4 {
		t.Fatalf("journal entries = %d, want 4", len(entries))
	}
	for _, e := range entries {
		if e.RunID != report.RunID || e.Status != journal.StatusCompleted {
			t.Fatalf("journal entry = %+v", e)
		}
	}
	textfile := testsupport.ReadString(t, f.cfg.Metrics.TextfilePath)
	for _, metric := range []string{"pagebind_pages_assembled_total 6", `pagebind_batch_cache_results_total{result="miss"} 1`} {
		if !strings.Contains(textfile, metric) {
			t.Fatalf("textfile missing %q:\n%s", metric, textfile)
		}
	}

	if _, hit, err := m.FetchBatch(context.Background(), "0007"); err != nil || !hit {
		t.Fatalf("second fetch hit=%v err=%v", hit, err)
	}
	if store.syncs != 1 {
		t.Fatalf("remote synced %d times", store.syncs)
	}
}

func TestProcessBatchContinuesAfterBookFailure(t *testing.T) {
	f := newFixture(t)
	f.writeMasters(t, "nyu_aco000001", 2)
	if err := os.MkdirAll(f.masterDir("nyu_aco000002"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	report, err := f.manager(t, newBatchStore(t)).ProcessBatch(context.Background(), "0008")
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "nyu_aco000002") {
		t.Fatalf("expected book failure, got %v", err)
	}
	failed := report.Failed()
	if len(report.Books) != 2 || len(failed) != 1 || failed[0].BookID != "nyu_aco000002" {
		t.Fatalf("report = %+v", report)
	}
	assertPageCount(t, filepath.Join(f.cfg.Paths.OutputDir, "nyu_aco000001_lo.pdf"), 2)
	invalid := f.entries(t, journal.Filter{Status: services.OutcomeInvalid})
	if len(invalid) != 1 || invalid[0].BookID != "nyu_aco000002" {
		t.Fatalf("invalid entries = %+v", invalid)
	}
}

func TestProcessBatchStopsOnPreflightFailure(t *testing.T) {
	f := newFixture(t)
	store := newBatchStore(t)
	m := f.manager(t, store)
	m.preflight = func(context.Context, *config.Config) []preflight.Result {
		return []preflight.Result{{Name: "qpdf", Passed: false, Detail: "not found"}}
	}

	_, err := m.ProcessBatch(context.Background(), "0009")
	if !errors.Is(err, services.ErrConfiguration) || !strings.Contains(err.Error(), "qpdf") {
		t.Fatalf("expected preflight failure, got %v", err)
	}
	if store.syncs != 0 {
		t.Fatalf("remote touched after failed preflight")
	}
}

func TestProcessBatchRejectsArchiveMismatch(t *testing.T) {
	f := newFixture(t)
	store := newBatchStore(t)
	store.csv = "identifier\nnyu_aco000001\nnyu_aco000003\n"

	_, err := f.manager(t, store).ProcessBatch(context.Background(), "0010")
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "nyu_aco000003.zip") {
		t.Fatalf("expected archive mismatch, got %v", err)
	}
	if f.exec.count("hocr-pdf") != 0 {
		t.Fatalf("books assembled despite archive mismatch")
	}
}

func TestFetchBatchRequiresStore(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.manager(t, nil).FetchBatch(context.Background(), "0001"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
