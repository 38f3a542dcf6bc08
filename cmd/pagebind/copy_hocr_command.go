package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pagebind/internal/workflow"
)

func newCopyHOCRCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "copy-hocr <src-dir> <dest-dir>",
		Short: "Copy .hocr files into an aux directory without overwriting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.manager.CopyOCRToAux(cmd.Context(), args[0], args[1], dryRun)
			if err != nil {
				return err
			}
			printCopyReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "List the files that would be copied")
	return cmd
}

func printCopyReport(out io.Writer, report workflow.CopyReport) {
	verb := "Copied"
	if report.DryRun {
		verb = "Would copy"
	}
	fmt.Fprintf(out, "%s %d file(s) to %s", verb, len(report.Copied), report.Dest)
	if len(report.Skipped) > 0 {
		fmt.Fprintf(out, " (%d existing skipped)", len(report.Skipped))
	}
	fmt.Fprintln(out)
}
