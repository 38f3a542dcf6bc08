package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pagebind/internal/journal"
)

func newJournalCommand(ctx *commandContext) *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the ledger of produced documents",
	}

	var filter journal.Filter
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded documents, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cmd.Context(), cfg.Paths.JournalPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No documents recorded")
				return nil
			}
			const stampLayout = "2006-01-02 15:04"
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				detail := e.OutputPath
				if e.Error != "" {
					detail = firstLine(e.Error)
				}
				rows = append(rows, []string{
					e.FinishedAt.Local().Format(stampLayout),
					e.BatchID,
					e.BookID,
					e.Variant,
					e.Status,
					fmt.Sprint(e.Pages),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Finished", "Batch", "Book", "Variant", "Status", "Pages", "Output / error"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}
	listCmd.Flags().StringVar(&filter.BatchID, "batch", "", "Only entries of this batch")
	listCmd.Flags().StringVar(&filter.BookID, "book", "", "Only entries of this book")
	listCmd.Flags().StringVar(&filter.Status, "status", "", "Only entries with this status (completed, skipped, failed, invalid)")
	listCmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum number of entries (0 for all)")

	journalCmd.AddCommand(listCmd)
	return journalCmd
}
