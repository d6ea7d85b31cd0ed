package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/copilot/internal/warehouse"
)

func newSchemaCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema description the model sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := warehouse.Open(cmd.Context(), c.cfg.DBPath, c.logger)
			if err != nil {
				return err
			}
			defer w.Close()

			desc, err := w.Describe(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), desc)
			return nil
		},
	}
}

func newSQLCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "sql QUERY",
		Short:   "Run one read-only query and print its result envelope",
		Example: `  copilot sql "SELECT COUNT(*) FROM orders"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := warehouse.Open(cmd.Context(), c.cfg.DBPath, c.logger)
			if err != nil {
				return err
			}
			defer w.Close()
			return printJSON(cmd.OutOrStdout(), w.Run(cmd.Context(), args[0]))
		},
	}
}
