package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the installed schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, done, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if a.jsonMode {
				return writeJSON(cmd.OutOrStdout(), db.Schema())
			}
			out, err := yaml.Marshal(db.Schema())
			if err != nil {
				return sysError(fmt.Errorf("marshal schema: %w", err))
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
