package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/invoicing/auth"
	"github.com/diewo77/invoicing/internal/db"
	"github.com/diewo77/invoicing/internal/logger"
	"github.com/diewo77/invoicing/internal/server"
	"github.com/diewo77/invoicing/internal/services"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the overdue sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, conn, err := bootstrap()
	if err != nil {
		return err
	}
	log := logger.WithComponent("server")
	if err := migrate(cfg, conn); err != nil {
		return err
	}
	a := newApp(cfg, conn)

	if cfg.App.Dev {
		owner, err := db.SeedDevOwner(conn)
		if err != nil {
			return err
		}
		log.Info().Uint("owner_id", owner.ID).Str("token", auth.Token(owner.ID)).Msg("dev owner ready")
	}
	if !cfg.Payments.Enabled() {
		log.Warn().Msg("STRIPE_SECRET_KEY not set, online payment disabled")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := services.NewOverdueSweeper(a.invoices, cfg.App.OverdueSweep, logger.WithComponent("overdue"))
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.New(conn, a.handlers(), logger.WithComponent("http")),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Bool("dev", cfg.App.Dev).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := a.runner.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("background tasks did not drain")
	}
	log.Info().Msg("server stopped gracefully")
	return nil
}
