package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pagebind/internal/workflow"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Fetch and process OCR batches",
	}
	batchCmd.AddCommand(newBatchRunCommand(ctx))
	batchCmd.AddCommand(newBatchFetchCommand(ctx))
	batchCmd.AddCommand(newBatchCopyHOCRCommand(ctx))
	return batchCmd
}

func newBatchRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <batch-id>",
		Short: "Fetch, verify, unpack, match and build every book of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.manager.ProcessBatch(cmd.Context(), args[0])
			printBatchReport(cmd.OutOrStdout(), report)
			return err
		},
	}
}

func newBatchFetchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <batch-id>",
		Short: "Fetch a batch into the dropbox outbox through the verified cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			outbox, hit, err := s.manager.FetchBatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			source := "remote"
			if hit {
				source = "cache"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %s ready in %s (from %s)\n", args[0], outbox, source)
			return nil
		},
	}
}

func newBatchCopyHOCRCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "copy-hocr <batch-id>",
		Short: "Copy every processed book's hOCR files into its aux directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			reports, err := s.manager.CopyBatchOCRToAux(cmd.Context(), args[0], dryRun)
			for _, report := range reports {
				printCopyReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the files that would be copied")
	return cmd
}

func printBatchReport(out io.Writer, report workflow.BatchReport) {
	if len(report.Books) == 0 {
		return
	}
	rows := make([][]string, 0, len(report.Books))
	for _, book := range report.Books {
		rows = append(rows, bookRows(book)...)
	}
	fmt.Fprintln(out, renderTable([]string{"Book", "Variant", "Pages", "Result", "Output"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
	failed := len(report.Failed())
	fmt.Fprintf(out, "Batch %s: %d book(s), %d failed, run %s, %s\n",
		report.BatchID, len(report.Books), failed, report.RunID, report.Duration.Round(time.Millisecond))
}

func bookRows(book workflow.BookReport) [][]string {
	var rows [][]string
	for _, doc := range book.Documents {
		result := "built (" + doc.Tool + ")"
		if doc.Skipped {
			result = "skipped (exists)"
		}
		rows = append(rows, []string{book.BookID, doc.Variant, fmt.Sprint(doc.Pages), result, doc.Output})
	}
	if book.Err != nil {
		rows = append(rows, []string{book.BookID, "-", "-", "failed: " + firstLine(book.Err.Error()), ""})
	}
	return rows
}

func firstLine(msg string) string {
	line, _, _ := strings.Cut(msg, "\n")
	return line
}
