package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/estrateo/estrateo/internal/app/runtime"
	"github.com/estrateo/estrateo/internal/config"
	"github.com/estrateo/estrateo/internal/platform/migrations"
)

var migrateList bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded schema to the configured database",
	Long: `Apply every embedded migration to the database named by the config.

Migrations use IF NOT EXISTS and can be re-run safely. Use --list to print the
embedded versions without connecting.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "print embedded migration versions and exit")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if migrateList {
		versions, err := migrations.Versions()
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintf(cmd.OutOrStdout(), "%04d\n", v)
		}
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("the memory driver has no schema; set DATABASE_DRIVER to postgres or sqlite")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	db, err := runtime.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema applied to %s database\n", cfg.Database.Driver)
	return nil
}
