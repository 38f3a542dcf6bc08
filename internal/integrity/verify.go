package integrity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pagebind/internal/fileutil"
	"pagebind/internal/services"
)

// IssueKind classifies a verification problem.
type IssueKind string

const (
	IssueMissing    IssueKind = "missing"
	IssueChecksum   IssueKind = "checksum mismatch"
	IssueSize       IssueKind = "size mismatch"
	IssueUnreadable IssueKind = "unreadable"
	IssueNoManifest IssueKind = "manifest missing"
	IssueMalformed  IssueKind = "malformed manifest"
)

// Issue is one verification diagnostic.
type Issue struct {
	Kind   IssueKind
	Name   string
	Detail string
}

func (i Issue) String() string {
	if i.Detail == "" {
		return fmt.Sprintf("%s: %s", i.Kind, i.Name)
	}
	return fmt.Sprintf("%s: %s (%s)", i.Kind, i.Name, i.Detail)
}

// ValidationError carries every problem found in one verification pass.
type ValidationError struct {
	Dir    string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	lines := make([]string, 0, len(e.Issues)+1)
	lines = append(lines, fmt.Sprintf("integrity check failed for %s (%d issue(s))", e.Dir, len(e.Issues)))
	for _, issue := range e.Issues {
		lines = append(lines, "  "+issue.String())
	}
	return strings.Join(lines, "\n")
}

// Is reports ValidationError as a validation failure.
func (e *ValidationError) Is(target error) bool {
	return target == services.ErrValidation
}

// Names returns the file names involved in issues of the given kind.
func (e *ValidationError) Names(kind IssueKind) []string {
	var names []string
	for _, issue := range e.Issues {
		if issue.Kind == kind {
			names = append(names, issue.Name)
		}
	}
	return names
}

// Verify re-hashes every manifest entry under dir. It checks all entries
// before returning and reports every problem in one *ValidationError.
func Verify(ctx context.Context, dir string, m Manifest) error {
	var issues []Issue
	for _, entry := range m.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, entry.Name)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				issues = append(issues, Issue{Kind: IssueMissing, Name: entry.Name})
			} else {
				issues = append(issues, Issue{Kind: IssueUnreadable, Name: entry.Name, Detail: err.Error()})
			}
			continue
		}
		if !info.Mode().IsRegular() {
			issues = append(issues, Issue{Kind: IssueMissing, Name: entry.Name, Detail: "not a regular file"})
			continue
		}
		digest, size, err := fileutil.HashFile(path)
		if err != nil {
			issues = append(issues, Issue{Kind: IssueUnreadable, Name: entry.Name, Detail: err.Error()})
			continue
		}
		if digest != entry.Digest {
			issues = append(issues, Issue{Kind: IssueChecksum, Name: entry.Name})
		}
		if entry.Size >= 0 && size != entry.Size {
			issues = append(issues, Issue{
				Kind:   IssueSize,
				Name:   entry.Name,
				Detail: fmt.Sprintf("expected %d, got %d", entry.Size, size),
			})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Dir: dir, Issues: issues}
	}
	return nil
}
