package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pagebind/internal/workflow"
)

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var req workflow.BookRequest
	cmd := &cobra.Command{
		Use:   "build <book-id>",
		Short: "Assemble and merge every PDF variant of one matched book",
		Long: "Build pairs each master image with its canonically named hOCR file, assembles the " +
			"pages at each configured DPI and merges them into <output_dir>/<book>_<variant>.pdf.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			req.BookID = args[0]
			report, err := s.manager.BuildBook(cmd.Context(), req)
			if rows := bookRows(report); len(rows) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Book", "Variant", "Pages", "Result", "Output"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&req.MasterDir, "master-dir", "", "Master image directory (default: resolved from books.master_dir_template)")
	cmd.Flags().StringVar(&req.OCRDir, "ocr-dir", "", "Directory holding <master>_ocr.hocr files (default: resolved, then the master dir)")
	cmd.Flags().StringVar(&req.OutputBase, "output-base", "", "Output path prefix; variants are written to <base>_<variant>.pdf")
	return cmd
}
