package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openidx/scim-engine/internal/common/database"
	"github.com/openidx/scim-engine/internal/store"
)

func newMigrateCmd(a *app, load func(*cobra.Command, []string) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "migrate",
		Short:             "Manage the PostgreSQL schema",
		PersistentPreRunE: load,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.NewPostgres(cmd.Context(), a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := store.RunMigrations(cmd.Context(), db.Pool); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the state of every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := database.NewPostgres(cmd.Context(), a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			return store.MigrationStatus(cmd.Context(), db.Pool)
		},
	})
	return cmd
}
