package imaging

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"pagebind/internal/deps"
	"pagebind/internal/runner"
	"pagebind/internal/services"
)

type scriptedExecutor struct {
	stdout string
	err    error
	binary string
	args   []string
}

func (s *scriptedExecutor) Run(_ context.Context, binary string, args ...string) (runner.Result, error) {
	s.binary = binary
	s.args = append([]string(nil), args...)
	return runner.Result{Stdout: s.stdout}, s.err
}

func fixedChain(name string) deps.Chain {
	return deps.Chain{
		Function: "raster resample",
		Candidates: []deps.Candidate{{
			Name:  name,
			Probe: func() (string, bool) { return "/opt/im/" + name, true },
		}},
	}
}

func TestParseIdentify(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Info
		err    error
	}{
		{"im7 inch", "2480|3508|300|PixelsPerInch", Info{Width: 2480, Height: 3508, DPI: 300}, nil},
		{"centimeter", "1000|800|118.11|PixelsPerCentimeter", Info{Width: 1000, Height: 800, DPI: 118.11 * 2.54}, nil},
		{"im6 unit suffix", "600|900|400 PixelsPerInch|", Info{Width: 600, Height: 900, DPI: 400}, nil},
		{"undefined unit", "600|900|72|Undefined", Info{Width: 600, Height: 900}, ErrNoResolution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentify(tt.output)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if got.Width != tt.want.Width || got.Height != tt.want.Height || math.Abs(got.DPI-tt.want.DPI) > 1e-9 {
				t.Fatalf("info = %+v, want %+v", got, tt.want)
			}
		})
	}
	if _, err := ParseIdentify("garbage"); err == nil {
		t.Fatal("expected error for malformed output")
	}
}

func TestScale(t *testing.T) {
	scale, err := Scale(4960, 400, 2480, 200)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if got := FormatScale(scale); got != "1.000" {
		t.Fatalf("scale = %s", got)
	}
	scale, err = Scale(3000, 300, 2480, 96)
	if err != nil {
		t.Fatalf("Scale: %v", err)
	}
	if got := FormatScale(scale); got != "0.387" {
		t.Fatalf("scale = %s", got)
	}
	if _, err := Scale(100, 0, 100, 200); !errors.Is(err, ErrNoResolution) {
		t.Fatalf("expected ErrNoResolution, got %v", err)
	}
	if _, err := Scale(100, 300, 0, 200); err == nil {
		t.Fatal("expected error for zero bbox width")
	}
}

func TestResampleArguments(t *testing.T) {
	exec := &scriptedExecutor{}
	m := &Magick{exec: exec, chain: fixedChain("convert")}
	dst := filepath.Join(t.TempDir(), "000001.jpg")

	if err := m.Resample(context.Background(), "/masters/p_d.tif", dst, 96); err != nil {
		t.Fatalf("Resample: %v", err)
	}
	want := []string{"/masters/p_d.tif[0]", "-resample", "96", "-strip", dst}
	if exec.binary != "/opt/im/convert" || !reflect.DeepEqual(exec.args, want) {
		t.Fatalf("ran %s %v", exec.binary, exec.args)
	}
}

func TestIdentifyUsesEntryPoint(t *testing.T) {
	exec := &scriptedExecutor{stdout: "10|20|300|PixelsPerInch"}
	m := &Magick{exec: exec, chain: fixedChain("magick")}
	info, err := m.Identify(context.Background(), "/m/a.tif")
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if info.Width != 10 || info.DPI != 300 {
		t.Fatalf("info = %+v", info)
	}
	if exec.binary != "/opt/im/magick" || exec.args[0] != "identify" {
		t.Fatalf("expected magick identify, ran %s %v", exec.binary, exec.args)
	}

	m.chain = fixedChain("convert")
	if _, err := m.Identify(context.Background(), "/m/a.tif"); err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if exec.binary != "identify" || exec.args[0] != "-format" {
		t.Fatalf("expected identify binary, ran %s %v", exec.binary, exec.args)
	}
}

func TestResampleFailureIsExternalTool(t *testing.T) {
	exec := &scriptedExecutor{err: &runner.SubprocessError{Binary: "magick", ExitCode: 1}}
	m := &Magick{exec: exec, chain: fixedChain("magick")}
	err := m.Resample(context.Background(), "a", "b", 200)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}
