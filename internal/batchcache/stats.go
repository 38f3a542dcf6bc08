package batchcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"pagebind/internal/integrity"
	"pagebind/internal/logging"
)

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Stats describes current cache usage.
type Stats struct {
	Entries      int            `json:"entries"`
	TotalBytes   int64          `json:"total_bytes"`
	FreeBytes    uint64         `json:"free_bytes"`
	TotalFSBytes uint64         `json:"total_fs_bytes"`
	Summaries    []EntrySummary `json:"summaries"`
}

// EntrySummary describes one cached batch for `cache list`.
type EntrySummary struct {
	Name        string    `json:"name"`
	Directory   string    `json:"directory"`
	SizeBytes   int64     `json:"size_bytes"`
	FileCount   int       `json:"file_count"`
	ModifiedAt  time.Time `json:"modified_at"`
	HasManifest bool      `json:"has_manifest"`
	// Incomplete marks a leftover temp directory from an interrupted build.
	Incomplete bool `json:"incomplete"`
}

// List summarises the cache entries, newest first, along with free space on
// the cache filesystem.
func (m *Manager) List(ctx context.Context) (Stats, error) {
	var s Stats
	dirEntries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("batchcache: list root: %w", err)
	}
	for _, entry := range dirEntries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.root, entry.Name())
		size, count, mtime, err := dirUsage(path)
		if err != nil {
			m.logger.WarnContext(ctx, "batchcache: skip entry",
				logging.String("cache_dir", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "batch_cache_entry_skipped"),
				logging.String(logging.FieldErrorHint, "inspect cache directory permissions or drop the entry"),
			)
			continue
		}
		_, manifestErr := os.Stat(filepath.Join(path, integrity.ChecksumsFile))
		s.Summaries = append(s.Summaries, EntrySummary{
			Name:        strings.TrimSuffix(entry.Name(), tmpSuffix),
			Directory:   path,
			SizeBytes:   size,
			FileCount:   count,
			ModifiedAt:  mtime,
			HasManifest: manifestErr == nil,
			Incomplete:  strings.HasSuffix(entry.Name(), tmpSuffix),
		})
		s.TotalBytes += size
	}
	sort.Slice(s.Summaries, func(i, j int) bool {
		if s.Summaries[i].ModifiedAt.Equal(s.Summaries[j].ModifiedAt) {
			return s.Summaries[i].Name < s.Summaries[j].Name
		}
		return s.Summaries[i].ModifiedAt.After(s.Summaries[j].ModifiedAt)
	})
	s.Entries = len(s.Summaries)

	total, free, err := m.statfs(m.root)
	if err != nil {
		return s, fmt.Errorf("batchcache: statfs: %w", err)
	}
	s.TotalFSBytes = total
	s.FreeBytes = free
	return s, nil
}

func dirUsage(dir string) (int64, int, time.Time, error) {
	var size int64
	var count int
	var latest time.Time
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		if d.Type().IsRegular() {
			size += info.Size()
			count++
		}
		return nil
	})
	return size, count, latest, err
}

func realStatfs(path string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize) //nolint:gosec
	return st.Blocks * bsize, st.Bavail * bsize, nil
}
