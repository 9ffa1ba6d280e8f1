package main

import (
	"context"
	"time"

	"github.com/diewo77/invoicing/internal/logger"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		Long: `Apply the database schema according to MIGRATIONS:
  auto - gorm AutoMigrate (default)
  sql  - embedded versioned SQL migrations (postgres only)`,
		RunE: func(*cobra.Command, []string) error {
			cfg, conn, err := bootstrap()
			if err != nil {
				return err
			}
			if cfg.App.Migrations == "off" {
				cfg.App.Migrations = "auto"
			}
			return migrate(cfg, conn)
		},
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Move invoices past their due date to overdue once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, conn, err := bootstrap()
			if err != nil {
				return err
			}
			a := newApp(cfg, conn)
			n, err := a.invoices.SweepOverdue(cmd.Context())
			drain(a)
			if err != nil {
				return err
			}
			log := logger.WithComponent("overdue")
			log.Info().Int("moved", n).Msg("overdue sweep complete")
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-ledger",
		Short: "Rebuild every client's running totals from its invoices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, conn, err := bootstrap()
			if err != nil {
				return err
			}
			a := newApp(cfg, conn)
			n, err := a.ledger.ReconcileAll(cmd.Context())
			drain(a)
			if err != nil {
				return err
			}
			log := logger.WithComponent("ledger")
			log.Info().Int("repaired", n).Msg("ledger reconciliation complete")
			return nil
		},
	}
}

// drain waits for ledger writes and webhook deliveries queued by a job.
func drain(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.runner.Close(ctx); err != nil {
		log := logger.WithComponent("tasks")
		log.Warn().Err(err).Msg("background tasks did not drain")
	}
}
