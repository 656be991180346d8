package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onurcolak/whatsapp-automation-service/pkg/database"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the MySQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			db, err := database.NewMySQLDB(cfg.Database)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					logger.Errorf("Failed to close database: %v", err)
				}
			}()

			if err := database.RunMigrations(db); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied to %s\n", cfg.Database.DBName)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Migrate and insert demo leads, a weekly job and automation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			db, err := database.NewMySQLDB(cfg.Database)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					logger.Errorf("Failed to close database: %v", err)
				}
			}()

			if err := database.RunMigrations(db); err != nil {
				return err
			}

			if err := database.SeedTestData(db); err != nil {
				return fmt.Errorf("failed to seed test data: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Seed completed successfully")
			return nil
		},
	}
}
