package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/docmodel/pkg/model"
)

func newListCmd(a *app) *cobra.Command {
	var page model.Page
	cmd := &cobra.Command{
		Use:   "list <namespace/type>",
		Short: "List the entities of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, typeName, err := splitType(args[0])
			if err != nil {
				return err
			}

			db, done, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			svc, err := db.Service(ns, typeName)
			if err != nil {
				return classify(err)
			}
			var p *model.Page
			if page.Size > 0 {
				p = &page
			}
			entities, err := svc.Find(cmd.Context(), nil, p)
			if err != nil {
				return classify(err)
			}

			if a.jsonMode {
				docs := make([]map[string]any, len(entities))
				for i, e := range entities {
					docs[i] = display(e)
				}
				return writeJSON(cmd.OutOrStdout(), docs)
			}
			for _, e := range entities {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.ID(), e)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&page.Size, "page-size", 0, "entities per page (0 lists all)")
	cmd.Flags().IntVar(&page.Index, "page", 0, "zero-based page index")
	return cmd
}
