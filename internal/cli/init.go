package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/docmodel/pkg/model"
)

func newInitCmd(a *app) *cobra.Command {
	var schemaPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a database from a schema file",
		Long:  "Attach the document store, then write the schema and migration log\ndocuments for a new database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := model.LoadSchema(schemaPath)
			if err != nil {
				return userError(err)
			}

			backend, err := a.attach()
			if err != nil {
				return err
			}
			defer backend.Detach()

			opts, err := a.options()
			if err != nil {
				return err
			}
			db, err := model.Create(cmd.Context(), backend, schema, opts...)
			if err != nil {
				if errors.Is(err, model.ErrDatabaseExists) {
					return userError(err)
				}
				return classify(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Database initialized at version %d\n", db.Version())
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema YAML file")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}
