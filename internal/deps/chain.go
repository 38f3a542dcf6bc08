package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Candidate is one tool that can serve a chain's function. Probe reports the
// resolved command (a path for binaries, the candidate name for in-process
// implementations) and whether the tool is usable right now.
type Candidate struct {
	Name  string
	Probe func() (string, bool)
}

// Chain is an ordered list of candidates for one function.
type Chain struct {
	Function   string
	Candidates []Candidate
}

// Resolved identifies the candidate a chain selected.
type Resolved struct {
	Name    string
	Command string
}

// UnavailableError reports that no candidate of a chain could be used.
type UnavailableError struct {
	Function string
	Tried    []string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("no %s tool available (tried %s)", e.Function, strings.Join(e.Tried, ", "))
}

// Resolve probes candidates in order and returns the first usable one.
func (c Chain) Resolve() (Resolved, error) {
	tried := make([]string, 0, len(c.Candidates))
	for _, candidate := range c.Candidates {
		if candidate.Probe == nil {
			continue
		}
		if command, ok := candidate.Probe(); ok {
			return Resolved{Name: candidate.Name, Command: command}, nil
		}
		tried = append(tried, candidate.Name)
	}
	return Resolved{}, &UnavailableError{Function: c.Function, Tried: tried}
}

// Names lists the candidate names in priority order.
func (c Chain) Names() []string {
	names := make([]string, 0, len(c.Candidates))
	for _, candidate := range c.Candidates {
		names = append(names, candidate.Name)
	}
	return names
}

// Binary is a candidate satisfied when binary is on PATH.
func Binary(name, binary string) Candidate {
	return Candidate{
		Name: name,
		Probe: func() (string, bool) {
			path, err := exec.LookPath(binary)
			if err != nil {
				return "", false
			}
			return path, true
		},
	}
}

// BinaryWithFiles is a candidate satisfied when binary is on PATH and every
// support file exists, such as a JVM plus its jars.
func BinaryWithFiles(name, binary string, files ...string) Candidate {
	return Candidate{
		Name: name,
		Probe: func() (string, bool) {
			path, err := exec.LookPath(binary)
			if err != nil {
				return "", false
			}
			for _, file := range files {
				info, err := os.Stat(file)
				if err != nil || info.IsDir() {
					return "", false
				}
			}
			return path, true
		},
	}
}

// InProcess is a candidate implemented inside pagebind, gated by enabled.
func InProcess(name string, enabled bool) Candidate {
	return Candidate{
		Name: name,
		Probe: func() (string, bool) {
			return name, enabled
		},
	}
}

// RasterChain returns the ImageMagick entry points in priority order.
func RasterChain() Chain {
	return Chain{
		Function:   "raster resample",
		Candidates: []Candidate{Binary("magick", "magick"), Binary("convert", "convert")},
	}
}
