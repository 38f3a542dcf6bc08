package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"pagebind/internal/fileutil"
)

const (
	ChecksumsFile = "CHECKSUMS.txt"
	CacheInfoFile = "CACHEINFO.txt"
)

// Entry describes one file covered by a manifest. Size is -1 when the
// manifest was loaded without CACHEINFO.txt.
type Entry struct {
	Name    string
	Digest  string
	Size    int64
	ModTime time.Time
}

// Manifest is an ordered, immutable snapshot of a directory's files.
type Manifest struct {
	entries []Entry
}

// NewManifest sorts entries by name and wraps them.
func NewManifest(entries []Entry) Manifest {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return Manifest{entries: sorted}
}

// Entries returns a copy of the manifest entries in name order.
func (m Manifest) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Len reports the number of covered files.
func (m Manifest) Len() int {
	return len(m.entries)
}

// TotalSize sums the known sizes of the covered files.
func (m Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.entries {
		if e.Size > 0 {
			total += e.Size
		}
	}
	return total
}

// Lookup finds the entry for name.
func (m Manifest) Lookup(name string) (Entry, bool) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Name >= name })
	if i < len(m.entries) && m.entries[i].Name == name {
		return m.entries[i], true
	}
	return Entry{}, false
}

func isManifestFile(name string) bool {
	return name == ChecksumsFile || name == CacheInfoFile
}

// Build hashes every regular file directly under dir, skipping the manifest
// files themselves.
func Build(ctx context.Context, dir string) (Manifest, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return Manifest{}, fmt.Errorf("integrity: read %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		if !de.Type().IsRegular() || isManifestFile(de.Name()) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		info, err := de.Info()
		if err != nil {
			return Manifest{}, fmt.Errorf("integrity: stat %s: %w", path, err)
		}
		digest, size, err := fileutil.HashFile(path)
		if err != nil {
			return Manifest{}, fmt.Errorf("integrity: hash %s: %w", path, err)
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Digest:  digest,
			Size:    size,
			ModTime: info.ModTime(),
		})
	}
	return NewManifest(entries), nil
}

// Create builds a manifest for dir and persists it there.
func Create(ctx context.Context, dir string) (Manifest, error) {
	m, err := Build(ctx, dir)
	if err != nil {
		return Manifest{}, err
	}
	if err := Write(dir, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// VerifyDir loads the manifest persisted in dir and verifies the directory
// against it. A missing CHECKSUMS.txt is a validation failure.
func VerifyDir(ctx context.Context, dir string) (Manifest, error) {
	m, err := Load(dir)
	if err != nil {
		return Manifest{}, err
	}
	if err := Verify(ctx, dir, m); err != nil {
		return m, err
	}
	return m, nil
}
