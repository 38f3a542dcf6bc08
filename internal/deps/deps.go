// Package deps reports and resolves the external tools pagebind depends on.
//
// CheckBinaries backs the `pagebind tools` status table and the startup
// verification of a batch run. Chain models a function (merge, resample,
// validate) that can be served by several ranked tools; Resolve probes the
// candidates in order at call time and returns the first usable one.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external dependency pagebind relies on. When
// Alternatives is set any one of Command or the alternatives satisfies it.
type Requirement struct {
	Name         string
	Command      string
	Alternatives []string
	Description  string
	Optional     bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		candidates := append([]string{cmd}, req.Alternatives...)
		for _, candidate := range candidates {
			if _, err := exec.LookPath(candidate); err == nil {
				status.Available = true
				status.Command = candidate
				break
			}
		}
		if !status.Available {
			quoted := make([]string, len(candidates))
			for i, c := range candidates {
				quoted[i] = fmt.Sprintf("%q", c)
			}
			status.Detail = fmt.Sprintf("binary %s not found", strings.Join(quoted, " or "))
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the names of required (non-optional) dependencies that are
// unavailable.
func Missing(statuses []Status) []string {
	var missing []string
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// PipelineRequirements lists the tools a batch run needs. The aws CLI is only
// required for the s3 remote.
func PipelineRequirements(remoteKind string) []Requirement {
	reqs := []Requirement{
		{Name: "exiftool", Command: "exiftool", Description: "PDF metadata stripping"},
		{Name: "qpdf", Command: "qpdf", Description: "PDF linearization and merge"},
		{Name: "imagemagick", Command: "magick", Alternatives: []string{"convert"}, Description: "Master image resampling"},
		{Name: "hocr-pdf", Command: "hocr-pdf", Description: "Searchable page overlay"},
		{Name: "pdftk", Command: "pdftk", Description: "Fallback PDF merge", Optional: true},
		{Name: "java", Command: "java", Description: "PDFBox fallback merge", Optional: true},
		{Name: "jhove", Command: "jhove", Description: "PDF structural validation", Optional: true},
	}
	if strings.EqualFold(strings.TrimSpace(remoteKind), "s3") {
		reqs = append([]Requirement{{Name: "aws", Command: "aws", Description: "S3 batch retrieval"}}, reqs...)
	}
	return reqs
}
