package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	repo "github.com/joseph-ayodele/procedo/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer repo.Close(db, logger)

		if err := repo.Migrate(cmd.Context(), db, logger); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var dbhealthCmd = &cobra.Command{
	Use:   "dbhealth",
	Short: "Ping the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer repo.Close(db, logger)

		if err := repo.HealthCheck(cmd.Context(), db, time.Second, logger); err != nil {
			return fmt.Errorf("DB health: FAIL (%w)", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "DB health: OK")
		return nil
	},
}
