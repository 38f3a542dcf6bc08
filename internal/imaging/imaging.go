// Package imaging wraps the ImageMagick calls used to prepare master page
// images: reading pixel size and resolution, and resampling to a target DPI.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"pagebind/internal/deps"
	"pagebind/internal/runner"
	"pagebind/internal/services"
)

// Info describes the first frame of an image.
type Info struct {
	Width  int
	Height int
	// DPI is the horizontal resolution in pixels per inch.
	DPI float64
}

// ErrNoResolution reports an image that does not record its resolution.
var ErrNoResolution = errors.New("image has no resolution")

const identifyFormat = "%w|%h|%x|%U"

// Magick runs ImageMagick through an executor. IM7 is reached through the
// `magick` entry point; IM6 installs provide `convert` and `identify`.
type Magick struct {
	exec  runner.Executor
	chain deps.Chain
}

// New builds a Magick using the default raster chain.
func New(exec runner.Executor) *Magick {
	return &Magick{exec: exec, chain: deps.RasterChain()}
}

// Resample writes the first frame of src to dst at dpi with metadata stripped.
func (m *Magick) Resample(ctx context.Context, src, dst string, dpi int) error {
	tool, err := m.chain.Resolve()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "imaging", "resample", "", err)
	}
	args := []string{src + "[0]", "-resample", strconv.Itoa(dpi), "-strip", dst}
	if _, err := m.exec.Run(ctx, tool.Command, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "imaging", "resample", src, err)
	}
	return nil
}

// Identify reads the pixel size and resolution of the first frame of path.
func (m *Magick) Identify(ctx context.Context, path string) (Info, error) {
	tool, err := m.chain.Resolve()
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "imaging", "identify", "", err)
	}
	binary := "identify"
	var args []string
	if tool.Name == "magick" {
		binary = tool.Command
		args = append(args, "identify")
	}
	args = append(args, "-format", identifyFormat, path+"[0]")
	result, err := m.exec.Run(ctx, binary, args...)
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "imaging", "identify", path, err)
	}
	info, err := ParseIdentify(result.Stdout)
	if err != nil {
		return Info{}, services.Wrap(services.ErrValidation, "imaging", "identify", path, err)
	}
	return info, nil
}

// ParseIdentify decodes output produced with the "%w|%h|%x|%U" format.
func ParseIdentify(output string) (Info, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(output), "\n", 2)[0])
	parts := strings.Split(line, "|")
	if len(parts) != 4 {
		return Info{}, fmt.Errorf("unexpected identify output %q", output)
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Info{}, fmt.Errorf("parse width %q: %w", parts[0], err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Info{}, fmt.Errorf("parse height %q: %w", parts[1], err)
	}
	info := Info{Width: width, Height: height}

	// IM6 may append the unit to %x ("300 PixelsPerInch").
	resFields := strings.Fields(parts[2])
	if len(resFields) == 0 {
		return info, ErrNoResolution
	}
	res, err := strconv.ParseFloat(resFields[0], 64)
	if err != nil {
		return info, fmt.Errorf("parse resolution %q: %w", parts[2], err)
	}
	unit := strings.TrimSpace(parts[3])
	if unit == "" && len(resFields) > 1 {
		unit = resFields[1]
	}
	switch strings.ToLower(unit) {
	case "pixelspercentimeter":
		res *= 2.54
	case "pixelsperinch":
	default:
		return info, ErrNoResolution
	}
	if res <= 0 {
		return info, ErrNoResolution
	}
	info.DPI = res
	return info, nil
}

// Scale is the factor that maps hOCR coordinates onto an image resampled to
// targetDPI: (imageWidth / bboxWidth) × (targetDPI / imageDPI).
func Scale(imageWidth int, imageDPI float64, bboxWidth int, targetDPI int) (float64, error) {
	if bboxWidth <= 0 {
		return 0, fmt.Errorf("bbox width %d is not positive", bboxWidth)
	}
	if imageDPI <= 0 {
		return 0, ErrNoResolution
	}
	scale := (float64(imageWidth) / float64(bboxWidth)) * (float64(targetDPI) / imageDPI)
	if math.IsInf(scale, 0) || math.IsNaN(scale) || scale <= 0 {
		return 0, fmt.Errorf("invalid scale %v", scale)
	}
	return scale, nil
}

// FormatScale renders a scale with three decimals.
func FormatScale(scale float64) string {
	return strconv.FormatFloat(scale, 'f', 3, 64)
}
