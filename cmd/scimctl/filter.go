package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openidx/scim-engine/internal/scim"
	"github.com/openidx/scim-engine/internal/scim/filter"
)

func newFilterCmd() *cobra.Command {
	var resource string

	cmd := &cobra.Command{
		Use:   "filter <expression>",
		Short: "Parse a filter and print its normalised form and SQL translation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, ok := scim.FindDefinition(resource)
			if !ok {
				return fmt.Errorf("unknown resource type %q", resource)
			}

			expr, err := filter.Parse(args[0])
			if err != nil {
				return err
			}
			if expr == nil {
				return fmt.Errorf("empty filter")
			}

			sql, err := filter.ToSQL(expr, "data", 1, filter.SchemaResolver(def))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "filter: %s\n", expr.String())
			_, _ = fmt.Fprintf(out, "where:  %s\n", sql.WhereClause)
			for i, arg := range sql.Args {
				_, _ = fmt.Fprintf(out, "$%d = %v\n", i+1, arg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "User", "resource type the filter applies to (User or Group)")
	return cmd
}
