package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			parts := strings.SplitN(id, "/", 3)
			if len(parts) < 2 {
				return userError(fmt.Errorf("invalid entity id %q", id))
			}

			db, done, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			svc, err := db.Service(parts[0], parts[1])
			if err != nil {
				return classify(err)
			}
			e, err := svc.Get(cmd.Context(), id)
			if err != nil {
				return classify(err)
			}
			return writeJSON(cmd.OutOrStdout(), display(e))
		},
	}
}
