package workflow

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"pagebind/internal/fileutil"
	"pagebind/internal/services"
)

// IdentifierColumn names the batch CSV column listing book ids.
const IdentifierColumn = "identifier"

const utf8BOM = "\ufeff"

// ReadIdentifiers returns the non-blank identifiers of a batch CSV and the
// encoding it was read with. UTF-8 (with or without BOM) is preferred, then
// Windows-1252, then Latin-1.
func ReadIdentifiers(csvPath string) ([]string, string, error) {
	data, err := os.ReadFile(csvPath)
	if err != nil {
		return nil, "", services.Wrap(services.ErrNotFound, "workflow", "read batch csv", csvPath, err)
	}
	text, encoding, err := decodeCSV(data)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "workflow", "read batch csv",
			fmt.Sprintf("unable to parse %s using common encodings", csvPath), err)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) || (err == nil && len(header) == 0) {
		return nil, encoding, services.Wrap(services.ErrValidation, "workflow", "read batch csv", "CSV missing headers in "+csvPath, nil)
	}
	if err != nil {
		return nil, encoding, services.Wrap(services.ErrValidation, "workflow", "read batch csv", csvPath, err)
	}
	column := -1
	for i, name := range header {
		if strings.TrimSpace(name) == IdentifierColumn {
			column = i
			break
		}
	}
	if column < 0 {
		return nil, encoding, services.Wrap(services.ErrValidation, "workflow", "read batch csv",
			fmt.Sprintf("CSV missing required %q column in %s", IdentifierColumn, csvPath), nil)
	}

	seen := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, encoding, services.Wrap(services.ErrValidation, "workflow", "read batch csv", csvPath, err)
		}
		if column >= len(record) {
			continue
		}
		if id := strings.TrimSpace(record[column]); id != "" {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, encoding, nil
}

func decodeCSV(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		if bytes.HasPrefix(data, []byte(utf8BOM)) {
			return string(data[len(utf8BOM):]), "utf-8-sig", nil
		}
		return string(data), "utf-8", nil
	}
	if text, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil && !bytes.ContainsRune(text, utf8.RuneError) {
		return string(text), "cp1252", nil
	}
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", err
	}
	return string(text), "latin-1", nil
}

// ArchiveIDs lists the stems of the .zip files directly under dir, sorted.
func ArchiveIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "list archives", dir, err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), ".zip") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ConfirmArchives checks that the archives in outbox are exactly the books
// listed in the batch CSV and returns the sorted book ids. The error names
// every missing and every extra archive.
func ConfirmArchives(outbox, csvPath string) ([]string, error) {
	archives, err := ArchiveIDs(outbox)
	if err != nil {
		return nil, err
	}
	listed, _, err := ReadIdentifiers(csvPath)
	if err != nil {
		return nil, err
	}

	var missing, extra []string
	for _, id := range listed {
		if !slices.Contains(archives, id) {
			missing = append(missing, id+".zip")
		}
	}
	for _, id := range archives {
		if !slices.Contains(listed, id) {
			extra = append(extra, id+".zip")
		}
	}
	if len(missing) == 0 && len(extra) == 0 && len(archives) == len(listed) {
		return listed, nil
	}

	var lines []string
	if len(missing) > 0 {
		lines = append(lines, fmt.Sprintf("missing ZIPs for %d book(s): %s", len(missing), strings.Join(missing, ", ")))
	}
	if len(extra) > 0 {
		lines = append(lines, fmt.Sprintf("extra ZIPs not listed in CSV (%d): %s", len(extra), strings.Join(extra, ", ")))
	}
	if len(archives) != len(listed) {
		lines = append(lines, fmt.Sprintf("count mismatch: %d ZIPs vs %d CSV entries", len(archives), len(listed)))
	}
	return nil, services.Wrap(services.ErrValidation, "workflow", "confirm archives", strings.Join(lines, "; "), nil)
}

// Unpack extracts every archive in outbox into processing/<archive stem> and
// strips each pattern from the extracted names. It returns the book ids in
// archive order.
func Unpack(outbox, processing string, strip []string) ([]string, error) {
	ids, err := ArchiveIDs(outbox)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		target := filepath.Join(processing, id)
		if err := extractZip(filepath.Join(outbox, id+".zip"), target); err != nil {
			return nil, err
		}
		for _, pattern := range strip {
			if _, err := fileutil.StripFromNames(target, pattern); err != nil {
				return nil, services.Wrap(services.ErrValidation, "workflow", "normalize names", target, err)
			}
		}
	}
	return ids, nil
}

func extractZip(archive, target string) error {
	// Insecure names are rejected per entry below.
	r, err := zip.OpenReader(archive)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return services.Wrap(services.ErrValidation, "workflow", "open archive", archive, err)
	}
	defer r.Close()

	if err := os.MkdirAll(target, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "workflow", "unpack", target, err)
	}
	for _, f := range r.File {
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			return services.Wrap(services.ErrValidation, "workflow", "unpack",
				fmt.Sprintf("%s: entry %q escapes the extraction directory", archive, f.Name), nil)
		}
		dest := filepath.Join(target, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return services.Wrap(services.ErrTransient, "workflow", "unpack", dest, err)
			}
			continue
		}
		if err := extractFile(f, dest); err != nil {
			return services.Wrap(services.ErrTransient, "workflow", "unpack", dest, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if f.Modified.IsZero() {
		return nil
	}
	return os.Chtimes(dest, f.Modified, f.Modified)
}

// ValidateOCRCounts checks that every book directory under processing holds
// as many .html files as .txt files, reporting all mismatching books.
func ValidateOCRCounts(processing string) error {
	entries, err := os.ReadDir(processing)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "workflow", "validate ocr counts", processing, err)
	}
	var mismatches []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(processing, entry.Name())
		htmls, err := countExt(dir, ".html")
		if err != nil {
			return err
		}
		txts, err := countExt(dir, ".txt")
		if err != nil {
			return err
		}
		if htmls != txts {
			mismatches = append(mismatches, fmt.Sprintf("%s: %d html vs %d txt", entry.Name(), htmls, txts))
		}
	}
	if len(mismatches) > 0 {
		return services.Wrap(services.ErrValidation, "workflow", "validate ocr counts",
			"count mismatch in "+strings.Join(mismatches, "; "), nil)
	}
	return nil
}

func countExt(dir, ext string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, services.Wrap(services.ErrNotFound, "workflow", "count files", dir, err)
	}
	n := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() && filepath.Ext(entry.Name()) == ext {
			n++
		}
	}
	return n, nil
}
