package main

import (
	"fmt"

	"github.com/diewo77/invoicing/internal/config"
	"github.com/diewo77/invoicing/internal/db"
	"github.com/diewo77/invoicing/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "invoicing",
		Short: "Invoicing and billing engine",
		Long: `Invoicing serves the invoicing JSON API and runs its maintenance jobs.

Configuration is read from the environment, optionally seeded from a .env
file in the working directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSweepCmd(), newReconcileCmd())
	return root
}

// bootstrap loads configuration, sets up logging and opens the database.
func bootstrap() (*config.Config, *gorm.DB, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := config.Load()
	if err := logger.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	conn, err := db.Open(cfg.Database, logger.WithComponent("db"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, conn, nil
}

// migrate applies the schema according to the configured mode.
func migrate(cfg *config.Config, conn *gorm.DB) error {
	log := logger.WithComponent("migrate")
	switch cfg.App.Migrations {
	case "auto":
		if err := db.Migrate(conn); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	case "sql":
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("sql migrations require postgres, got %q", cfg.Database.Driver)
		}
		if err := db.RunSQLMigrations(cfg.Database.URL()); err != nil {
			return err
		}
	default:
		log.Info().Msg("migrations disabled")
		return nil
	}
	log.Info().Str("mode", cfg.App.Migrations).Msg("migrations applied")
	return nil
}
