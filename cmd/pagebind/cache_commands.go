package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pagebind/internal/batchcache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the verified batch cache",
	}
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheDropCommand(ctx))
	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := cacheManager(ctx)
			if err != nil {
				return err
			}
			stats, err := manager.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Cache: %s\n", manager.Root())
			if len(stats.Summaries) == 0 {
				fmt.Fprintln(out, "Cached batches: none")
			} else {
				const stampLayout = "2006-01-02 15:04"
				rows := make([][]string, 0, len(stats.Summaries))
				for _, entry := range stats.Summaries {
					state := "verified on use"
					switch {
					case entry.Incomplete:
						state = "incomplete build"
					case !entry.HasManifest:
						state = "no manifest"
					}
					rows = append(rows, []string{
						entry.Name,
						fmt.Sprint(entry.FileCount),
						humanBytes(entry.SizeBytes),
						entry.ModifiedAt.Local().Format(stampLayout),
						state,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Batch", "Files", "Size", "Updated", "State"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft}))
			}
			fmt.Fprintf(out, "Total: %s in %d batch(es); %s free\n",
				humanBytes(stats.TotalBytes), stats.Entries, humanBytes(int64(stats.FreeBytes)))
			return nil
		},
	}
}

func newCacheDropCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <batch-id>",
		Short: "Remove a cached batch so the next fetch rebuilds it from the remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := cacheManager(ctx)
			if err != nil {
				return err
			}
			if err := manager.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped cached batch %s\n", args[0])
			return nil
		},
	}
}

// cacheManager builds a cache manager without a remote store; list and drop
// never sync.
func cacheManager(ctx *commandContext) (*batchcache.Manager, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := ctx.logger()
	if err != nil {
		return nil, err
	}
	return batchcache.NewManager(cfg, nil, logger), nil
}
