package main

import (
	"errors"
	"fmt"

	"github.com/rightly/dsar-gateway/internal/config"
	"github.com/rightly/dsar-gateway/internal/repository"
	"github.com/rightly/dsar-gateway/internal/storage"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the audit log table and the usage snapshot schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Database.URL == "" && cfg.Usage.DBPath == "" {
			return errors.New("nothing to migrate: set DATABASE_URL and/or USAGE_DB_PATH")
		}

		if cfg.Database.URL != "" {
			pg, err := storage.NewPostgres(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := pg.AutoMigrate(); err != nil {
				return fmt.Errorf("postgres migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ">> postgres: request_logs ready")
		}

		if cfg.Usage.DBPath != "" {
			db, err := storage.NewSQLite(cfg.Usage.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := repository.NewUsageRepository(db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), ">> sqlite: usage snapshots ready at %s\n", db.Path())
		}
		return nil
	},
}
