package integrity

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pagebind/internal/fileutil"
)

var cacheInfoLine = regexp.MustCompile(`^(.+?)\s+size=(\d+)(?:\s+mtime=(\S+))?\s*$`)

// Write persists CHECKSUMS.txt and CACHEINFO.txt into dir. Each file is
// written to a temp name and renamed into place.
func Write(dir string, m Manifest) error {
	var sums, info strings.Builder
	for _, e := range m.entries {
		fmt.Fprintf(&sums, "%s  %s\n", e.Digest, e.Name)
		fmt.Fprintf(&info, "%s  size=%d  mtime=%s\n", e.Name, e.Size, formatMtime(e.ModTime))
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, ChecksumsFile), []byte(sums.String()), 0o644); err != nil {
		return fmt.Errorf("integrity: write %s: %w", ChecksumsFile, err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, CacheInfoFile), []byte(info.String()), 0o644); err != nil {
		return fmt.Errorf("integrity: write %s: %w", CacheInfoFile, err)
	}
	return nil
}

// Load parses the manifest persisted in dir. CACHEINFO.txt is optional; when
// absent, entry sizes are unknown and size checks are skipped.
func Load(dir string) (Manifest, error) {
	sumsPath := filepath.Join(dir, ChecksumsFile)
	file, err := os.Open(sumsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, &ValidationError{Dir: dir, Issues: []Issue{{Kind: IssueNoManifest, Name: ChecksumsFile}}}
		}
		return Manifest{}, fmt.Errorf("integrity: open %s: %w", sumsPath, err)
	}
	defer file.Close()

	meta, err := loadCacheInfo(dir)
	if err != nil {
		return Manifest{}, err
	}

	var entries []Entry
	var issues []Issue
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		digest, name, ok := parseChecksumLine(line)
		if !ok {
			issues = append(issues, Issue{Kind: IssueMalformed, Name: ChecksumsFile, Detail: fmt.Sprintf("line %d", lineNo)})
			continue
		}
		entry := Entry{Name: name, Digest: digest, Size: -1}
		if m, ok := meta[name]; ok {
			entry.Size = m.Size
			entry.ModTime = m.ModTime
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return Manifest{}, fmt.Errorf("integrity: read %s: %w", sumsPath, err)
	}
	if len(issues) > 0 {
		return Manifest{}, &ValidationError{Dir: dir, Issues: issues}
	}
	return NewManifest(entries), nil
}

func parseChecksumLine(line string) (digest, name string, ok bool) {
	idx := strings.IndexAny(line, " \t")
	if idx <= 0 {
		return "", "", false
	}
	digest = strings.ToLower(line[:idx])
	name = strings.TrimLeft(line[idx:], " \t")
	name = strings.TrimPrefix(name, "*")
	if name == "" || len(digest) != 64 {
		return "", "", false
	}
	if _, err := strconv.ParseUint(digest[:16], 16, 64); err != nil {
		return "", "", false
	}
	return digest, name, true
}

func loadCacheInfo(dir string) (map[string]Entry, error) {
	path := filepath.Join(dir, CacheInfoFile)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("integrity: open %s: %w", path, err)
	}
	defer file.Close()

	out := make(map[string]Entry)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		match := cacheInfoLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if match == nil {
			continue
		}
		size, err := strconv.ParseInt(match[2], 10, 64)
		if err != nil {
			continue
		}
		out[match[1]] = Entry{Name: match[1], Size: size, ModTime: parseMtime(match[3])}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("integrity: read %s: %w", path, err)
	}
	return out, nil
}

func formatMtime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', -1, 64)
}

func parseMtime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}
