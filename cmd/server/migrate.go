package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sle-predictor-server/internal/database"
)

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres history schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withMigrations(func(mr *database.MigrationRunner) error {
				return mr.Up(cmd.Context())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withMigrations(func(mr *database.MigrationRunner) error {
				return mr.Down(cmd.Context())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withMigrations(func(mr *database.MigrationRunner) error {
				version, dirty, err := mr.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return a.withMigrations(func(mr *database.MigrationRunner) error {
				return mr.Force(version)
			})
		},
	})

	return cmd
}

func (a *app) withMigrations(fn func(*database.MigrationRunner) error) error {
	cfg := a.config.GetDatabaseConfig()
	if cfg.Driver != "postgres" {
		return fmt.Errorf("migrations apply to the postgres driver only (configured: %s)", cfg.Driver)
	}

	mr, err := database.NewMigrationRunner(a.config.GetDatabaseConnectionString(), cfg.MigrationsPath, a.logger)
	if err != nil {
		return err
	}
	defer mr.Close()
	return fn(mr)
}
