package workflow

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"pagebind/internal/services"
	"pagebind/internal/testsupport"
)

// zipBytes builds an archive holding files keyed by slash-separated name.
func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(files[name])); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, zipBytes(t, files), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
}

func TestReadIdentifiersEncodings(t *testing.T) {
	cases := []struct {
		name     string
		data     []byte
		encoding string
		want     []string
	}{
		{"utf8", []byte("identifier,title\nnyu_aco000002,Two\nnyu_aco000001,One\n"), "utf-8", []string{"nyu_aco000001", "nyu_aco000002"}},
		{"bom", []byte("\ufeffidentifier,title\nnyu_aco000001,One\n"), "utf-8-sig", []string{"nyu_aco000001"}},
		{"cp1252", []byte("title,identifier\nCaf\xe9 \x93quoted\x94, nyu_aco000003 \n"), "cp1252", []string{"nyu_aco000003"}},
		{"dedupe and blanks", []byte("identifier\nnyu_aco000001\n\n  \nnyu_aco000001\n"), "utf-8", []string{"nyu_aco000001"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "batch.csv")
			if err := os.WriteFile(path, tc.data, 0o644); err != nil {
				t.Fatalf("write csv: %v", err)
			}
			ids, encoding, err := ReadIdentifiers(path)
			if err != nil {
				t.Fatalf("ReadIdentifiers: %v", err)
			}
			if encoding != tc.encoding {
				t.Fatalf("encoding = %q, want %q", encoding, tc.encoding)
			}
			if !slices.Equal(ids, tc.want) {
				t.Fatalf("ids = %v, want %v", ids, tc.want)
			}
		})
	}
}

func TestReadIdentifiersRejectsMissingColumn(t *testing.T) {
	dir := t.TempDir()
	noColumn := filepath.Join(dir, "a.csv")
	testsupport.WriteString(t, noColumn, "id,title\nx,y\n")
	if _, _, err := ReadIdentifiers(noColumn); !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), `"identifier"`) {
		t.Fatalf("expected missing column validation error, got %v", err)
	}

	empty := filepath.Join(dir, "b.csv")
	testsupport.WriteString(t, empty, "")
	if _, _, err := ReadIdentifiers(empty); !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "missing headers") {
		t.Fatalf("expected missing headers error, got %v", err)
	}

	if _, _, err := ReadIdentifiers(filepath.Join(dir, "absent.csv")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConfirmArchivesListsEveryDifference(t *testing.T) {
	outbox := t.TempDir()
	for _, name := range []string{"nyu_aco000001.zip", "nyu_aco000003.zip", "nyu_aco000004.zip", "notes.txt"} {
		testsupport.WriteString(t, filepath.Join(outbox, name), "x")
	}
	csvPath := filepath.Join(t.TempDir(), "batch.csv")
	testsupport.WriteString(t, csvPath, "identifier\nnyu_aco000001\nnyu_aco000002\n")

	_, err := ConfirmArchives(outbox, csvPath)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{
		"missing ZIPs for 1 book(s): nyu_aco000002.zip",
		"extra ZIPs not listed in CSV (2): nyu_aco000003.zip, nyu_aco000004.zip",
		"count mismatch: 3 ZIPs vs 2 CSV entries",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q missing %q", msg, want)
		}
	}
}

func TestConfirmArchivesAcceptsExactSet(t *testing.T) {
	outbox := t.TempDir()
	testsupport.WriteString(t, filepath.Join(outbox, "nyu_aco000001.zip"), "x")
	testsupport.WriteString(t, filepath.Join(outbox, "nyu_aco000002.zip"), "x")
	csvPath := filepath.Join(outbox, "batch0001.csv")
	testsupport.WriteString(t, csvPath, "identifier\nnyu_aco000002\nnyu_aco000001\n")

	ids, err := ConfirmArchives(outbox, csvPath)
	if err != nil {
		t.Fatalf("ConfirmArchives: %v", err)
	}
	if !slices.Equal(ids, []string{"nyu_aco000001", "nyu_aco000002"}) {
		t.Fatalf("ids = %v", ids)
	}
}

func TestUnpackExtractsAndStrips(t *testing.T) {
	outbox := t.TempDir()
	processing := t.TempDir()
	writeZip(t, filepath.Join(outbox, "nyu_aco000001.zip"), map[string]string{
		"nyu_aco000001_000001_lo.html": "<html/>",
		"nyu_aco000001_000001_lo.txt":  "text",
		"sub/readme.txt":               "nested",
	})

	books, err := Unpack(outbox, processing, []string{"_lo"})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !slices.Equal(books, []string{"nyu_aco000001"}) {
		t.Fatalf("books = %v", books)
	}
	dir := filepath.Join(processing, "nyu_aco000001")
	got := testsupport.ListNames(t, dir)
	want := []string{"nyu_aco000001_000001.html", "nyu_aco000001_000001.txt", "sub"}
	if !slices.Equal(got, want) {
		t.Fatalf("unpacked = %v, want %v", got, want)
	}
	if data := testsupport.ReadString(t, filepath.Join(dir, "sub", "readme.txt")); data != "nested" {
		t.Fatalf("nested content = %q", data)
	}
}

func TestUnpackRejectsEscapingEntries(t *testing.T) {
	outbox := t.TempDir()
	processing := filepath.Join(t.TempDir(), "processing")
	writeZip(t, filepath.Join(outbox, "evil.zip"), map[string]string{"../../escaped.txt": "x"})

	_, err := Unpack(outbox, processing, nil)
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("expected escape rejection, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(processing), "escaped.txt")); !os.IsNotExist(statErr) {
		t.Fatalf("escaped file was written")
	}
}

func TestValidateOCRCounts(t *testing.T) {
	processing := t.TempDir()
	testsupport.WriteString(t, filepath.Join(processing, "good", "a.html"), "")
	testsupport.WriteString(t, filepath.Join(processing, "good", "a.txt"), "")
	if err := ValidateOCRCounts(processing); err != nil {
		t.Fatalf("balanced book rejected: %v", err)
	}

	testsupport.WriteString(t, filepath.Join(processing, "bad1", "a.html"), "")
	testsupport.WriteString(t, filepath.Join(processing, "bad1", "b.html"), "")
	testsupport.WriteString(t, filepath.Join(processing, "bad1", "a.txt"), "")
	testsupport.WriteString(t, filepath.Join(processing, "bad2", "a.txt"), "")
	err := ValidateOCRCounts(processing)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, want := range []string{"bad1: 2 html vs 1 txt", "bad2: 0 html vs 1 txt"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
	if strings.Contains(err.Error(), "good") {
		t.Fatalf("balanced book reported: %v", err)
	}
}
