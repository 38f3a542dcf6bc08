package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"pagebind/internal/workflow"
)

// progressReporter draws one bar per document. The bar is created on the
// first callback, when the page total is known.
func progressReporter(w io.Writer) workflow.ProgressFunc {
	return func(bookID, variant string) func(done, total int) {
		var bar *progressbar.ProgressBar
		return func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(w),
					progressbar.OptionSetDescription(color.BlueString(fmt.Sprintf("%s %s", bookID, variant))),
					progressbar.OptionSetItsString("pages"),
					progressbar.OptionShowCount(),
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionSetWidth(40),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set(done)
		}
	}
}
