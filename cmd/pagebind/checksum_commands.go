package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pagebind/internal/config"
	"pagebind/internal/integrity"
)

func newChecksumCommand() *cobra.Command {
	checksumCmd := &cobra.Command{
		Use:         "checksum",
		Short:       "Create or verify CHECKSUMS.txt manifests",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	checksumCmd.AddCommand(&cobra.Command{
		Use:   "create <dir>",
		Short: "Hash every file in dir and write CHECKSUMS.txt and CACHEINFO.txt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			manifest, err := integrity.Create(cmd.Context(), dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote manifest for %d file(s), %s, in %s\n",
				manifest.Len(), humanBytes(manifest.TotalSize()), dir)
			return nil
		},
	})
	checksumCmd.AddCommand(&cobra.Command{
		Use:   "verify <dir>",
		Short: "Verify dir against its CHECKSUMS.txt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			manifest, err := integrity.VerifyDir(cmd.Context(), dir)
			out := cmd.OutOrStdout()
			var verr *integrity.ValidationError
			if errors.As(err, &verr) {
				rows := make([][]string, 0, len(verr.Issues))
				for _, issue := range verr.Issues {
					rows = append(rows, []string{string(issue.Kind), issue.Name, issue.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Issue", "File", "Detail"}, rows, nil))
				return fmt.Errorf("%s: %d issue(s)", dir, len(verr.Issues))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "OK: %d file(s) verified in %s\n", manifest.Len(), dir)
			return nil
		},
	})
	return checksumCmd
}
