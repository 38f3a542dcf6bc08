package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"pagebind/internal/assembler"
	"pagebind/internal/logging"
	"pagebind/internal/services"
)

// MasterSuffix identifies canonical master images.
const MasterSuffix = "_d.tif"

const bom = "\ufeff"

// Source extension → renamed extension.
var extensionMap = []struct {
	source string
	target string
}{
	{"txt", "txt"},
	{"html", "hocr"},
}

// Request describes one book to match.
type Request struct {
	// BookID defaults to the name of MasterDir's parent directory.
	BookID     string
	MasterDir  string
	OCRDir     string
	DryRun     bool
	CheckPerms bool
}

// Rename is one planned or applied rename.
type Rename struct {
	From string
	To   string
}

// Result is the outcome of a match.
type Result struct {
	BookID string
	// Masters are the canonical master images in page order.
	Masters []string
	// Renamed holds the OCR paths after renaming, keyed by target extension
	// ("hocr", "txt"), in page order.
	Renamed map[string][]string
	Renames []Rename
	DryRun  bool
}

// FileRenameError reports a violated matching precondition. No file has been
// renamed when it is returned.
type FileRenameError struct {
	Dir   string
	Msg   string
	Files []string
}

func (e *FileRenameError) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if len(e.Files) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Files, ", "))
	}
	return b.String()
}

// Is marks rename precondition failures as validation errors.
func (e *FileRenameError) Is(target error) bool {
	return target == services.ErrValidation
}

// Matcher performs OCR renames.
type Matcher struct {
	logger *slog.Logger
	access func(path string) error
}

// New constructs a Matcher.
func New(logger *slog.Logger) *Matcher {
	return &Matcher{
		logger: logging.NewComponentLogger(logger, "matcher"),
		access: func(path string) error { return unix.Access(path, unix.W_OK|unix.X_OK) },
	}
}

// Match validates the request and renames the OCR files into canonical
// order. In dry-run mode the rename plan is returned without touching disk.
func (m *Matcher) Match(ctx context.Context, req Request) (Result, error) {
	bookID := strings.TrimSpace(req.BookID)
	if bookID == "" {
		bookID = filepath.Base(filepath.Dir(filepath.Clean(req.MasterDir)))
	}
	ctx = services.WithBookID(ctx, bookID)
	logger := logging.WithContext(ctx, m.logger)

	for _, dir := range []string{req.MasterDir, req.OCRDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return Result{}, &FileRenameError{Dir: dir, Msg: fmt.Sprintf("directory not found: %q", dir)}
		}
	}

	existing, err := scan(req.OCRDir, canonicalPattern(bookID))
	if err != nil {
		return Result{}, err
	}
	if len(existing) > 0 {
		return Result{}, &FileRenameError{
			Dir:   req.OCRDir,
			Msg:   fmt.Sprintf("found files already renamed in %s", req.OCRDir),
			Files: existing,
		}
	}

	masters, err := scanMasters(req.MasterDir)
	if err != nil {
		return Result{}, err
	}
	if len(masters) == 0 {
		return Result{}, &FileRenameError{Dir: req.MasterDir, Msg: fmt.Sprintf("couldn't find master images in %q", req.MasterDir)}
	}

	result := Result{
		BookID:  bookID,
		Masters: masters,
		Renamed: make(map[string][]string, len(extensionMap)),
		DryRun:  req.DryRun,
	}
	for _, ext := range extensionMap {
		sources, err := scan(req.OCRDir, sourcePattern(bookID, ext.source))
		if err != nil {
			return Result{}, err
		}
		if len(sources) == 0 {
			return Result{}, &FileRenameError{Dir: req.OCRDir, Msg: fmt.Sprintf("can't find .%s OCR files in %q", ext.source, req.OCRDir)}
		}
		if len(sources) != len(masters) {
			return Result{}, &FileRenameError{
				Dir: req.OCRDir,
				Msg: fmt.Sprintf("number of master images in %q (%d) doesn't match the number of .%s OCR files in %q (%d)",
					req.MasterDir, len(masters), ext.source, req.OCRDir, len(sources)),
			}
		}
		targets := make([]string, len(masters))
		for i, master := range masters {
			base := strings.TrimSuffix(filepath.Base(master), MasterSuffix)
			targets[i] = filepath.Join(req.OCRDir, base+"_ocr."+ext.target)
			result.Renames = append(result.Renames, Rename{From: sources[i], To: targets[i]})
		}
		result.Renamed[ext.target] = targets
	}

	var clobber []string
	for _, r := range result.Renames {
		if _, err := os.Lstat(r.To); err == nil {
			clobber = append(clobber, r.To)
		}
	}
	if len(clobber) > 0 {
		return Result{}, &FileRenameError{Dir: req.OCRDir, Msg: "rename targets already exist", Files: clobber}
	}

	if req.CheckPerms {
		if err := m.access(req.OCRDir); err != nil {
			return Result{}, &FileRenameError{
				Dir: req.OCRDir,
				Msg: fmt.Sprintf("no write and execute permission on OCR directory %q (%s): %v", req.OCRDir, describeMode(req.OCRDir), err),
			}
		}
	}

	for _, r := range result.Renames {
		logger.Debug("rename",
			logging.String("from", filepath.Base(r.From)),
			logging.String("to", filepath.Base(r.To)),
			logging.Bool("dry_run", req.DryRun),
		)
	}
	if req.DryRun {
		logger.Info("rename plan ready", logging.Int("pages", len(masters)), logging.Int("renames", len(result.Renames)))
		return result, nil
	}
	if err := applyRenames(result.Renames); err != nil {
		return Result{}, err
	}
	logger.Info("ocr files renamed", logging.Int("pages", len(masters)), logging.Int("renames", len(result.Renames)))
	return result, nil
}

// Units pairs each master image with its renamed hOCR file, numbering pages
// from one in canonical order.
func Units(result Result) []assembler.PageUnit {
	hocr := result.Renamed["hocr"]
	units := make([]assembler.PageUnit, 0, len(result.Masters))
	for i, master := range result.Masters {
		if i >= len(hocr) {
			break
		}
		units = append(units, assembler.PageUnit{Index: i + 1, Image: master, OCR: hocr[i]})
	}
	return units
}

// Pair builds page units for a book whose OCR files already carry their
// canonical names: master k pairs with <base k>_ocr.hocr in ocrDir.
func Pair(masterDir, ocrDir string) ([]assembler.PageUnit, error) {
	masters, err := scanMasters(masterDir)
	if err != nil {
		return nil, err
	}
	if len(masters) == 0 {
		return nil, &FileRenameError{Dir: masterDir, Msg: fmt.Sprintf("couldn't find master images in %q", masterDir)}
	}
	units := make([]assembler.PageUnit, 0, len(masters))
	var missing []string
	for i, master := range masters {
		base := strings.TrimSuffix(filepath.Base(master), MasterSuffix)
		hocr := filepath.Join(ocrDir, base+"_ocr.hocr")
		if !isRegular(hocr) {
			missing = append(missing, filepath.Base(hocr))
			continue
		}
		units = append(units, assembler.PageUnit{Index: i + 1, Image: master, OCR: hocr})
	}
	if len(missing) > 0 {
		return nil, &FileRenameError{
			Dir:   ocrDir,
			Msg:   fmt.Sprintf("%d of %d master images have no hOCR file in %q", len(missing), len(masters), ocrDir),
			Files: missing,
		}
	}
	return units, nil
}

// applyRenames performs the renames, undoing the applied ones if any fails.
func applyRenames(renames []Rename) error {
	for i, r := range renames {
		if err := os.Rename(r.From, r.To); err != nil {
			var undo []error
			for j := i - 1; j >= 0; j-- {
				if uerr := os.Rename(renames[j].To, renames[j].From); uerr != nil {
					undo = append(undo, uerr)
				}
			}
			err = services.Wrap(services.ErrTransient, "matcher", "rename", r.From, err)
			if len(undo) > 0 {
				return errors.Join(append([]error{err}, undo...)...)
			}
			return err
		}
	}
	return nil
}

func canonicalPattern(bookID string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(bookID) + `_((afr|zbk)\d{2}|n\d{6})_ocr\.(hocr|txt|html)`)
}

func sourcePattern(bookID, ext string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(bookID) + `_\d{6}\.` + regexp.QuoteMeta(ext) + `$`)
}

// scan returns the regular files in dir whose BOM-stripped name matches
// pattern, sorted byte-wise by that name.
func scan(dir string, pattern *regexp.Regexp) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "matcher", "scan", dir, err)
	}
	type match struct{ clean, path string }
	var matches []match
	for _, entry := range entries {
		clean := strings.TrimLeft(entry.Name(), bom)
		if !pattern.MatchString(clean) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !isRegular(path) {
			continue
		}
		matches = append(matches, match{clean: clean, path: path})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].clean < matches[j].clean })
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}
	return paths, nil
}

func scanMasters(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "matcher", "scan masters", dir, err)
	}
	var masters []string
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), MasterSuffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if isRegular(path) {
			masters = append(masters, path)
		}
	}
	sort.Strings(masters)
	return masters, nil
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func describeMode(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "unknown"
	}
	return info.Mode().String()
}
