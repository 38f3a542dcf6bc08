package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"pagebind/internal/matcher"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var req matcher.Request
	cmd := &cobra.Command{
		Use:   "match <master-dir> <ocr-dir>",
		Short: "Rename OCR files to the canonical names of their master images",
		Long: "Match pairs the k-th OCR page with the k-th master image (byte-wise order) and renames " +
			"<book>_NNNNNN.html/.txt to <master>_ocr.hocr/.txt. Nothing is renamed when any precondition fails.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			req.MasterDir, req.OCRDir = args[0], args[1]
			req.CheckPerms = !req.DryRun
			result, err := matcher.New(logger).Match(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printRenamePlan(out, result, newPalette(isTerminal(out)))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.BookID, "book", "", "Book id (default: the master directory's parent name)")
	cmd.Flags().BoolVarP(&req.DryRun, "dry-run", "n", false, "Print the rename plan without renaming")
	return cmd
}

func printRenamePlan(out io.Writer, result matcher.Result, p palette) {
	verb := "Renamed"
	if result.DryRun {
		verb = "Would rename"
	}
	for _, r := range result.Renames {
		fmt.Fprintf(out, "  %s %s %s\n", p.dim.Sprint(filepath.Base(r.From)), p.dim.Sprint("->"), p.ok.Sprint(filepath.Base(r.To)))
	}
	fmt.Fprintf(out, "%s %d file(s) for %s (%d pages)\n", verb, len(result.Renames), result.BookID, len(result.Masters))
}
