package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// StripFromNames removes every occurrence of substr from the names of files
// and directories below root. Deeper paths are renamed first so a directory
// is only renamed after its contents. Renaming onto an existing path is an
// error. It returns the number of entries renamed.
func StripFromNames(root, substr string) (int, error) {
	if substr == "" {
		return 0, errors.New("strip pattern must not be empty")
	}
	info, err := os.Stat(root)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.Contains(filepath.Base(path), substr) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return depth(paths[i]) > depth(paths[j])
	})

	renamed := 0
	for _, path := range paths {
		target := filepath.Join(filepath.Dir(path), strings.ReplaceAll(filepath.Base(path), substr, ""))
		if target == filepath.Dir(path) {
			return renamed, fmt.Errorf("stripping %q from %s leaves an empty name", substr, path)
		}
		if _, err := os.Lstat(target); err == nil {
			return renamed, fmt.Errorf("rename %s: %s already exists", path, target)
		}
		if err := os.Rename(path, target); err != nil {
			return renamed, err
		}
		renamed++
	}
	return renamed, nil
}

func depth(path string) int {
	return strings.Count(filepath.ToSlash(path), "/")
}
