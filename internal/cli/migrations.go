package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/docmodel/pkg/migration"
)

func newMigrationsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrations",
		Short: "Print the migration log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attach()
			if err != nil {
				return err
			}
			defer backend.Detach()

			entries, err := migration.Log(cmd.Context(), backend)
			if err != nil {
				return classify(err)
			}
			if a.jsonMode {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tTYPE\tVERSION\tACTIONS")
			for _, e := range entries {
				when := time.UnixMilli(e.When).UTC().Format(time.RFC3339)
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", when, e.Type, e.Version, len(e.Actions))
			}
			return tw.Flush()
		},
	}
}
