package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pagebind/internal/assembler"
	"pagebind/internal/deps"
	"pagebind/internal/merger"
	"pagebind/internal/preflight"
)

func newToolsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Report which external tools are installed and which ones each chain would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg)
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				state := "available"
				switch {
				case !s.Available && s.Optional:
					state = "missing (optional)"
				case !s.Available:
					state = "MISSING"
				}
				rows = append(rows, []string{s.Name, s.Command, state, s.Description})
			}
			fmt.Fprintln(out, renderTable([]string{"Tool", "Command", "Status", "Used for"}, rows, nil))

			printChain(out, merger.New(nil, cfg.Tools, nil).Chain())
			printChain(out, deps.RasterChain())
			printChain(out, assembler.OverlayChain())

			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func printChain(out io.Writer, chain deps.Chain) {
	active := "none available"
	if resolved, err := chain.Resolve(); err == nil {
		active = resolved.Name
	}
	fmt.Fprintf(out, "%s: %s (using %s)\n", chain.Function, strings.Join(chain.Names(), " > "), active)
}
